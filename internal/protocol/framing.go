package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// FrameHeaderSize 帧头大小：4 字节大端长度
	FrameHeaderSize = 4

	// MaxFrameSize 单帧上限，超过视为协议违规
	MaxFrameSize = 1 << 20
)

var ErrFrameTooLarge = errors.New("frame exceeds size limit")

// ReadFrame 从流中读取一帧：4 字节长度前缀 + 帧体（一个 JSON 对象）
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, FrameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header)
	if length == 0 {
		return nil, errors.New("empty frame")
	}
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// WriteFrame 写出一帧
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}

	frame := make([]byte, FrameHeaderSize+len(body))
	binary.BigEndian.PutUint32(frame[:FrameHeaderSize], uint32(len(body)))
	copy(frame[FrameHeaderSize:], body)
	_, err := w.Write(frame)
	return err
}
