package erasure

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/engram-io/engram/internal/model"
)

// sealPayload is the canonical form covered by the hash and signature.
// Field order is fixed by the struct; affected ids are sorted so the same
// deletion always serializes to the same bytes.
type sealPayload struct {
	AuditID       string   `json:"auditId"`
	OwnerID       string   `json:"ownerId"`
	DeletionType  string   `json:"deletionType"`
	AffectedIDs   []string `json:"affectedIds"`
	RequestedTime string   `json:"requestedTime"`
	CompletedTime string   `json:"completedTime,omitempty"`
}

func canonical(a *model.DeletionAudit, completedAt *time.Time) ([]byte, error) {
	ids := make([]string, len(a.AffectedIDs))
	copy(ids, a.AffectedIDs)
	sort.Strings(ids)
	p := sealPayload{
		AuditID:       a.AuditID,
		OwnerID:       a.OwnerID,
		DeletionType:  string(a.DeletionType),
		AffectedIDs:   ids,
		RequestedTime: a.RequestedTime.UTC().Format(time.RFC3339Nano),
	}
	if completedAt != nil {
		p.CompletedTime = completedAt.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(p)
}

// PayloadHash binds the audit to its request at creation time, before any
// completion signature exists. It is keyed with the server secret so the
// hash cannot be recomputed by anyone who only sees the audit row.
func PayloadHash(secret []byte, a *model.DeletionAudit) (string, error) {
	b, err := canonical(a, nil)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(b)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Sign produces the HMAC-SHA256 completion signature over the canonical
// payload including the completion time.
func Sign(secret []byte, a *model.DeletionAudit, completedAt time.Time) (string, error) {
	b, err := canonical(a, &completedAt)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(b)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifySignature recomputes the signature from the audit's stored fields
// and compares in constant time.
func VerifySignature(secret []byte, a *model.DeletionAudit) (bool, error) {
	if a.CompletedTime == nil || a.Signature == "" {
		return false, nil
	}
	want, err := Sign(secret, a, *a.CompletedTime)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(want), []byte(a.Signature)), nil
}

// MatchesSignature compares a caller-presented signature against the
// audit's recomputed one in constant time.
func MatchesSignature(secret []byte, a *model.DeletionAudit, presented string) (bool, error) {
	if a.CompletedTime == nil || presented == "" {
		return false, nil
	}
	want, err := Sign(secret, a, *a.CompletedTime)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(want), []byte(presented)), nil
}
