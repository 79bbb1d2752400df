package tchannel

var _ Frame = &ErrorMessage{}

// ErrorMessage is the body of an Error frame: code:1 message~2. It
// completes the operation whose id the frame carries.
type ErrorMessage struct {
	Code    ResponseCode
	Message []byte
}

func (fr *ErrorMessage) Type() FrameType {
	return FrameTypeError
}

func (fr *ErrorMessage) Reset() {
	fr.Code = CodeOK
	fr.Message = fr.Message[:0]
}

// Err derives the completion error reported to the operation's sink.
func (fr *ErrorMessage) Err() error {
	return &RemoteError{Code: fr.Code, Message: string(fr.Message)}
}

func (fr *ErrorMessage) Serialize(frh *FrameHeader) {
	p := frh.payload
	p = append(p, byte(fr.Code))
	p = appendLen16Bytes(p, fr.Message)
	frh.payload = p
}

func (fr *ErrorMessage) Deserialize(frh *FrameHeader) error {
	cur := cursor{b: frh.payload}

	fr.Code = ResponseCode(cur.readByte())
	fr.Message = append(fr.Message[:0], cur.readLen16Bytes()...)
	if cur.err != nil {
		return cur.err
	}

	return cur.expectEOF(FrameTypeError)
}
