package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multicodec"
	mh "github.com/multiformats/go-multihash"

	"github.com/relves/vaultgate/pkg/types"
)

// Record is an event as stored in a resource's audit chain. Each record
// names the CID of its predecessor, so rewriting history changes every
// later CID.
type Record struct {
	Seq   uint64 `json:"seq"`
	CID   string `json:"cid"`
	Prev  string `json:"prev,omitempty"`
	Event Event  `json:"event"`
}

type sealedBody struct {
	Seq   uint64 `json:"seq"`
	Prev  string `json:"prev,omitempty"`
	Event Event  `json:"event"`
}

// ComputeCID computes a CIDv1 for JSON-encoded data using SHA2-256.
func ComputeCID(data []byte) (string, error) {
	hash, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	return cid.NewCidV1(uint64(multicodec.Json), hash).String(), nil
}

// Seal links e after prev at position seq. It returns the record and the
// canonical bytes its CID was computed over.
func Seal(seq uint64, prev string, e Event) (Record, []byte, error) {
	body, err := json.Marshal(sealedBody{Seq: seq, Prev: prev, Event: e})
	if err != nil {
		return Record{}, nil, fmt.Errorf("encode event: %w", err)
	}
	c, err := ComputeCID(body)
	if err != nil {
		return Record{}, nil, fmt.Errorf("compute cid: %w", err)
	}
	return Record{Seq: seq, CID: c, Prev: prev, Event: e}, body, nil
}

// Open decodes a sealed body and checks it against its CID.
func Open(expectCID string, body []byte) (Record, error) {
	got, err := ComputeCID(body)
	if err != nil {
		return Record{}, err
	}
	if got != expectCID {
		return Record{}, fmt.Errorf("%w: have %s, computed %s", ErrChainBroken, expectCID, got)
	}
	var sb sealedBody
	if err := json.Unmarshal(body, &sb); err != nil {
		return Record{}, fmt.Errorf("decode event: %w", err)
	}
	return Record{Seq: sb.Seq, CID: expectCID, Prev: sb.Prev, Event: sb.Event}, nil
}

// ErrChainBroken reports a record whose CID or link does not match.
var ErrChainBroken = errors.New("event chain broken")

// VerifyChain checks that consecutive records link to each other.
func VerifyChain(records []Record) error {
	for i := 1; i < len(records); i++ {
		if records[i].Prev != records[i-1].CID {
			return fmt.Errorf("%w: record %d links to %s, want %s",
				ErrChainBroken, records[i].Seq, records[i].Prev, records[i-1].CID)
		}
		if records[i].Seq != records[i-1].Seq+1 {
			return fmt.Errorf("%w: sequence gap at %d", ErrChainBroken, records[i].Seq)
		}
	}
	return nil
}

// Appender stores events in a resource's audit chain.
type Appender interface {
	AppendEvent(ctx context.Context, e Event) (Record, error)
}

// AppenderLookup returns the appender for a resource.
type AppenderLookup func(id types.ResourceID) (Appender, error)

// ChainSink appends every event to the audit chain of its resource.
// Failures are logged and dropped.
type ChainSink struct {
	lookup AppenderLookup
	logger *slog.Logger
}

// NewChainSink creates a sink writing through lookup.
func NewChainSink(lookup AppenderLookup, logger *slog.Logger) *ChainSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChainSink{lookup: lookup, logger: logger}
}

func (s *ChainSink) Emit(ctx context.Context, e Event) {
	a, err := s.lookup(e.Resource)
	if err != nil {
		s.logger.Warn("event dropped: no store", "resource", e.Resource, "type", e.Type, "error", err)
		return
	}
	if _, err := a.AppendEvent(ctx, e); err != nil {
		s.logger.Warn("event dropped", "resource", e.Resource, "type", e.Type, "error", err)
	}
}

var _ Sink = (*ChainSink)(nil)
