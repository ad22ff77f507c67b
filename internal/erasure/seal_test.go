package erasure

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/engram-io/engram/internal/model"
)

var secret = []byte("test-signing-secret")

func sampleAudit() *model.DeletionAudit {
	return &model.DeletionAudit{
		AuditID:       "a1",
		OwnerID:       "owner-1",
		DeletionType:  model.DeletionSelective,
		AffectedIDs:   []string{"m2", "m1"},
		AffectedCount: 2,
		RequestedTime: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPayloadHashIsOrderIndependent(t *testing.T) {
	a := sampleAudit()
	h1, err := PayloadHash(secret, a)
	require.NoError(t, err)

	b := sampleAudit()
	b.AffectedIDs = []string{"m1", "m2"}
	h2, err := PayloadHash(secret, b)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestPayloadHashIsKeyed(t *testing.T) {
	a := sampleAudit()
	h1, err := PayloadHash(secret, a)
	require.NoError(t, err)
	h2, err := PayloadHash([]byte("other-secret"), a)
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
}

func TestMatchesSignature(t *testing.T) {
	a := sampleAudit()
	completedAt := a.RequestedTime.Add(73 * time.Hour)
	sig, err := Sign(secret, a, completedAt)
	require.NoError(t, err)
	a.CompletedTime = &completedAt

	ok, err := MatchesSignature(secret, a, sig)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = MatchesSignature(secret, a, sig[:len(sig)-2]+"ff")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = MatchesSignature(secret, a, "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	a := sampleAudit()
	completedAt := a.RequestedTime.Add(73 * time.Hour)

	sig, err := Sign(secret, a, completedAt)
	require.NoError(t, err)
	require.NotEmpty(t, sig)

	a.Signature = sig
	a.CompletedTime = &completedAt
	ok, err := VerifySignature(secret, a)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyDetectsTampering(t *testing.T) {
	base := sampleAudit()
	completedAt := base.RequestedTime.Add(73 * time.Hour)
	sig, err := Sign(secret, base, completedAt)
	require.NoError(t, err)

	mutations := map[string]func(a *model.DeletionAudit){
		"owner":          func(a *model.DeletionAudit) { a.OwnerID = "owner-2" },
		"type":           func(a *model.DeletionAudit) { a.DeletionType = model.DeletionFull },
		"ids added":      func(a *model.DeletionAudit) { a.AffectedIDs = append(a.AffectedIDs, "m3") },
		"ids removed":    func(a *model.DeletionAudit) { a.AffectedIDs = a.AffectedIDs[:1] },
		"requested time": func(a *model.DeletionAudit) { a.RequestedTime = a.RequestedTime.Add(time.Hour) },
		"completed time": func(a *model.DeletionAudit) { t := a.CompletedTime.Add(time.Hour); a.CompletedTime = &t },
		"signature":      func(a *model.DeletionAudit) { a.Signature = a.Signature[:len(a.Signature)-2] + "ff" },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			a := sampleAudit()
			a.Signature = sig
			ct := completedAt
			a.CompletedTime = &ct
			mutate(a)
			ok, err := VerifySignature(secret, a)
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	a := sampleAudit()
	completedAt := a.RequestedTime.Add(time.Hour)
	sig, err := Sign(secret, a, completedAt)
	require.NoError(t, err)
	a.Signature = sig
	a.CompletedTime = &completedAt

	ok, err := VerifySignature([]byte("other-secret"), a)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyUnsealedAudit(t *testing.T) {
	a := sampleAudit()
	ok, err := VerifySignature(secret, a)
	require.NoError(t, err)
	require.False(t, ok)
}
