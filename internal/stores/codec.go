package stores

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"
)

const (
	challengeRecordVersionV1 = 1
	tokenRecordVersionV1     = 1
	maxRefLength             = 65535
)

var errRecordCorrupt = errors.New("record corrupt")

type recordWriter struct {
	buf bytes.Buffer
	err error
}

func (w *recordWriter) byte(v byte) {
	if w.err == nil {
		w.err = w.buf.WriteByte(v)
	}
}

func (w *recordWriter) fixed(v any) {
	if w.err == nil {
		w.err = binary.Write(&w.buf, binary.BigEndian, v)
	}
}

func (w *recordWriter) time(t time.Time) {
	if t.IsZero() {
		w.fixed(int64(0))
		return
	}
	w.fixed(t.UnixMilli())
}

func (w *recordWriter) string(s string) {
	if len(s) > maxRefLength {
		w.err = errors.New("record field too long")
		return
	}
	w.fixed(uint16(len(s)))
	if w.err == nil {
		w.buf.WriteString(s)
	}
}

func (w *recordWriter) bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.buf.Bytes(), nil
}

type recordReader struct {
	r   *bytes.Reader
	err error
}

func newRecordReader(data []byte) *recordReader {
	return &recordReader{r: bytes.NewReader(data)}
}

func (r *recordReader) byte() byte {
	if r.err != nil {
		return 0
	}
	b, err := r.r.ReadByte()
	r.err = err
	return b
}

func (r *recordReader) fixed(v any) {
	if r.err == nil {
		r.err = binary.Read(r.r, binary.BigEndian, v)
	}
}

func (r *recordReader) time() time.Time {
	var ms int64
	r.fixed(&ms)
	if r.err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (r *recordReader) string() string {
	var n uint16
	r.fixed(&n)
	if r.err != nil {
		return ""
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(r.r, raw); err != nil {
		r.err = err
		return ""
	}
	return string(raw)
}

func (r *recordReader) hash() [32]byte {
	var out [32]byte
	if r.err == nil {
		_, r.err = io.ReadFull(r.r, out[:])
	}
	return out
}

func encodeChallengeRecord(record *ChallengeRecord) ([]byte, error) {
	var w recordWriter

	w.byte(challengeRecordVersionV1)
	w.byte(record.Purpose)
	w.byte(record.Channel)
	w.byte(byte(record.Status))
	w.fixed(record.Attempts)
	w.fixed(record.MaxAttempts)
	w.fixed(record.ResendCount)
	w.fixed(record.Revision)
	w.time(record.CreatedAt)
	w.time(record.ExpiresAt)
	w.time(record.NextResendAt)
	w.time(record.VerifiedAt)
	w.string(record.ID)
	w.string(record.OwnerRef)
	w.string(record.SubjectRef)
	if w.err == nil {
		w.buf.Write(record.SecretHash[:])
	}

	return w.bytes()
}

func decodeChallengeRecord(data []byte) (*ChallengeRecord, error) {
	r := newRecordReader(data)

	if version := r.byte(); r.err == nil && version != challengeRecordVersionV1 {
		return nil, errors.New("invalid challenge record version")
	}

	record := &ChallengeRecord{}
	record.Purpose = r.byte()
	record.Channel = r.byte()
	record.Status = ChallengeStatus(r.byte())
	r.fixed(&record.Attempts)
	r.fixed(&record.MaxAttempts)
	r.fixed(&record.ResendCount)
	r.fixed(&record.Revision)
	record.CreatedAt = r.time()
	record.ExpiresAt = r.time()
	record.NextResendAt = r.time()
	record.VerifiedAt = r.time()
	record.ID = r.string()
	record.OwnerRef = r.string()
	record.SubjectRef = r.string()
	record.SecretHash = r.hash()

	if r.err != nil {
		return nil, errors.Join(errRecordCorrupt, r.err)
	}
	return record, nil
}

func encodeActionTokenRecord(record *ActionTokenRecord) ([]byte, error) {
	var w recordWriter

	w.byte(tokenRecordVersionV1)
	w.byte(record.Purpose)
	w.byte(byte(record.Status))
	w.fixed(record.Revision)
	w.time(record.CreatedAt)
	w.time(record.ExpiresAt)
	w.time(record.ConsumedAt)
	w.string(record.SourceChallengeID)
	w.string(record.SubjectRef)

	return w.bytes()
}

func decodeActionTokenRecord(data []byte) (*ActionTokenRecord, error) {
	r := newRecordReader(data)

	if version := r.byte(); r.err == nil && version != tokenRecordVersionV1 {
		return nil, errors.New("invalid action token record version")
	}

	record := &ActionTokenRecord{}
	record.Purpose = r.byte()
	record.Status = TokenStatus(r.byte())
	r.fixed(&record.Revision)
	record.CreatedAt = r.time()
	record.ExpiresAt = r.time()
	record.ConsumedAt = r.time()
	record.SourceChallengeID = r.string()
	record.SubjectRef = r.string()

	if r.err != nil {
		return nil, errors.Join(errRecordCorrupt, r.err)
	}
	return record, nil
}

func normalizeTenantID(tenantID string) string {
	if tenantID == "" {
		return "0"
	}
	return tenantID
}
