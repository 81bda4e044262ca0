package audit

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/warden/pkg/canonical"
)

// EvidenceBundle is an exportable, self-verifying slice of the audit
// log for compliance review.
type EvidenceBundle struct {
	BundleID   string    `json:"bundle_id"`
	CreatedAt  time.Time `json:"created_at"`
	StartSeq   uint64    `json:"start_sequence"`
	EndSeq     uint64    `json:"end_sequence"`
	EntryCount int       `json:"entry_count"`
	Entries    []Entry   `json:"entries"`
	ChainHead  string    `json:"chain_head"`
	BundleHash string    `json:"bundle_hash"`
}

// Export packages the entries matching the filter into an evidence
// bundle with its own content hash.
func (l *MemoryLog) Export(f Filter) (*EvidenceBundle, error) {
	entries := l.Query(f)
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}

	b := &EvidenceBundle{
		BundleID:   uuid.New().String(),
		CreatedAt:  time.Now().UTC(),
		StartSeq:   entries[0].Sequence,
		EndSeq:     entries[len(entries)-1].Sequence,
		EntryCount: len(entries),
		Entries:    entries,
		ChainHead:  entries[len(entries)-1].EntryHash,
	}

	sum, err := canonical.CanonicalHash(b.Entries)
	if err != nil {
		return nil, fmt.Errorf("audit: bundle hash: %w", err)
	}
	b.BundleHash = "sha256:" + sum
	return b, nil
}

// VerifyBundle checks a bundle's content hash and the chain links
// between its consecutive entries.
func VerifyBundle(b *EvidenceBundle) error {
	if b == nil || len(b.Entries) == 0 {
		return fmt.Errorf("audit: bundle is empty")
	}

	sum, err := canonical.CanonicalHash(b.Entries)
	if err != nil {
		return fmt.Errorf("audit: bundle hash: %w", err)
	}
	if "sha256:"+sum != b.BundleHash {
		return fmt.Errorf("audit: bundle hash mismatch")
	}

	for i := 1; i < len(b.Entries); i++ {
		if b.Entries[i].PreviousHash != b.Entries[i-1].EntryHash {
			return fmt.Errorf("%w: bundle entry %d does not bind its predecessor", ErrChainBroken, i)
		}
	}
	return nil
}
