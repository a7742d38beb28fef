package session

import (
	"encoding/binary"
	"errors"
)

// Wire format, version 1:
//
//	[1]  version
//	[2]  accountID length (uint16 BE) + bytes
//	[2]  rememberSeries length (uint16 BE) + bytes
//	[8]  createdAt (unix nanoseconds, BE)
//	[8]  lastAccess (unix nanoseconds, BE)
//	[8]  expiresAt (unix nanoseconds, BE)
//
// The token is the storage key and is never part of the payload.

const codecVersion = 1

var ErrCorruptSession = errors.New("corrupt session payload")

func encodeSession(s *Session) []byte {
	buf := make([]byte, 0, 1+2+len(s.AccountID)+2+len(s.RememberSeries)+24)
	buf = append(buf, codecVersion)
	buf = appendString(buf, s.AccountID)
	buf = appendString(buf, s.RememberSeries)
	buf = binary.BigEndian.AppendUint64(buf, uint64(s.CreatedAt))
	buf = binary.BigEndian.AppendUint64(buf, uint64(s.LastAccess))
	buf = binary.BigEndian.AppendUint64(buf, uint64(s.ExpiresAt))
	return buf
}

func decodeSession(data []byte) (*Session, error) {
	if len(data) < 1 || data[0] != codecVersion {
		return nil, ErrCorruptSession
	}
	rest := data[1:]

	accountID, rest, ok := readString(rest)
	if !ok {
		return nil, ErrCorruptSession
	}
	series, rest, ok := readString(rest)
	if !ok {
		return nil, ErrCorruptSession
	}
	if len(rest) != 24 {
		return nil, ErrCorruptSession
	}
	return &Session{
		AccountID:      accountID,
		RememberSeries: series,
		CreatedAt:      int64(binary.BigEndian.Uint64(rest[0:8])),
		LastAccess:     int64(binary.BigEndian.Uint64(rest[8:16])),
		ExpiresAt:      int64(binary.BigEndian.Uint64(rest[16:24])),
	}, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func readString(data []byte) (string, []byte, bool) {
	if len(data) < 2 {
		return "", nil, false
	}
	n := int(binary.BigEndian.Uint16(data))
	data = data[2:]
	if len(data) < n {
		return "", nil, false
	}
	return string(data[:n]), data[n:], true
}
