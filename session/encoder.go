package session

import (
	"encoding/json"
	"errors"
	"regexp"
)

// CurrentSchemaVersion is the only record version this store reads or writes.
const CurrentSchemaVersion = 1

// ErrCorruptRecord is returned by [DecodeRecord] for any record this store
// must not trust.
var ErrCorruptRecord = errors.New("corrupt session record")

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{24,128}$`)

// ValidSessionID reports whether sid has the shape of an identifier this
// store could have minted.
func ValidSessionID(sid string) bool {
	return sessionIDPattern.MatchString(sid)
}

// EncodeRecord serializes a record for storage.
func EncodeRecord(r Record) ([]byte, error) {
	r.Version = CurrentSchemaVersion
	if err := validateRecord(r); err != nil {
		return nil, err
	}
	return json.Marshal(r)
}

// DecodeRecord parses and validates a stored record.
func DecodeRecord(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, errors.Join(ErrCorruptRecord, err)
	}
	if err := validateRecord(r); err != nil {
		return Record{}, err
	}
	return r, nil
}

func validateRecord(r Record) error {
	switch {
	case r.Version != CurrentSchemaVersion:
		return errors.Join(ErrCorruptRecord, errors.New("unsupported session schema version"))
	case r.CreatedAtMs <= 0,
		r.LastSeenAtMs < r.CreatedAtMs,
		r.IdleExpiresAtMs <= 0,
		r.AbsoluteExpiresAtMs <= 0:
		return errors.Join(ErrCorruptRecord, errors.New("invalid session timestamps"))
	case r.IdleExpiresAtMs > r.AbsoluteExpiresAtMs:
		return errors.Join(ErrCorruptRecord, errors.New("idle expiry exceeds absolute expiry"))
	case r.TokenCiphertext == "":
		return errors.Join(ErrCorruptRecord, errors.New("missing token ciphertext"))
	}
	return nil
}
