package messaging

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/wire"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bardlex/lifpow/internal/mining"
	"github.com/bardlex/lifpow/internal/pow"
	"github.com/bardlex/lifpow/pkg/errors"
)

// Result statuses reported on TopicSolutions.
const (
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
	StatusStale    = "stale"
	StatusInvalid  = "invalid"
)

// JobMessage is a search job published by jobmanager. It carries the whole
// candidate block so a miner can submit without asking the node again.
type JobMessage struct {
	JobID      string    `json:"job_id"`
	Network    string    `json:"network"`
	Height     int64     `json:"height"`
	PrevHash   string    `json:"prev_hash"`
	Bits       string    `json:"bits"`
	Target     string    `json:"target"`
	Difficulty float64   `json:"difficulty"`
	MinNonce   uint32    `json:"min_nonce"`
	MaxNonce   uint32    `json:"max_nonce"`
	ExtraNonce uint64    `json:"extra_nonce"`
	BlockHex   string    `json:"block_hex"` // nonce zero
	CleanJobs  bool      `json:"clean_jobs"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewJobMessage describes job, whose header must be block's header with a
// zero nonce.
func NewJobMessage(job *mining.Job, block *wire.MsgBlock, extraNonce uint64, clean bool) (*JobMessage, error) {
	var buf bytes.Buffer
	buf.Grow(block.SerializeSize())
	if err := block.Serialize(&buf); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "job_message", "failed to serialize block").
			WithContext("job_id", job.ID)
	}

	return &JobMessage{
		JobID:      job.ID,
		Network:    job.NetworkID,
		Height:     job.Height,
		PrevHash:   block.Header.PrevBlock.String(),
		Bits:       fmt.Sprintf("%08x", job.Header.Bits()),
		Target:     job.Target.String(),
		Difficulty: job.Difficulty(),
		MinNonce:   job.MinNonce,
		MaxNonce:   job.MaxNonce,
		ExtraNonce: extraNonce,
		BlockHex:   hex.EncodeToString(buf.Bytes()),
		CleanJobs:  clean,
		CreatedAt:  job.CreatedAt,
	}, nil
}

// Block decodes the candidate block.
func (m *JobMessage) Block() (*wire.MsgBlock, error) {
	raw, err := hex.DecodeString(m.BlockHex)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "job_message", "invalid block hex").
			WithContext("job_id", m.JobID)
	}
	block := &wire.MsgBlock{}
	if err := block.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "job_message", "failed to decode block").
			WithContext("job_id", m.JobID)
	}
	return block, nil
}

// Job rebuilds the search job from the candidate block's header.
func (m *JobMessage) Job() (*mining.Job, *wire.MsgBlock, error) {
	block, err := m.Block()
	if err != nil {
		return nil, nil, err
	}
	header, err := pow.HeaderFromWire(&block.Header)
	if err != nil {
		return nil, nil, err
	}
	job, err := mining.CreateJob(m.JobID, m.Network, m.Height, header, m.MinNonce, m.MaxNonce)
	if err != nil {
		return nil, nil, err
	}
	job.CreatedAt = m.CreatedAt
	return job, block, nil
}

// EncodeJob marshals m as JSON.
func EncodeJob(m *JobMessage) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "json_marshal", "failed to marshal job message")
	}
	return data, nil
}

// DecodeJob unmarshals a JSON job message.
func DecodeJob(data []byte) (*JobMessage, error) {
	var m JobMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "json_unmarshal", "failed to unmarshal job message").
			WithContext("message_size", len(data))
	}
	if m.JobID == "" || m.Network == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "json_unmarshal", "job message missing id or network")
	}
	return &m, nil
}

// ResultMessage reports what became of a found solution.
type ResultMessage struct {
	JobID     string
	Network   string
	Height    int64
	Nonce     uint32
	Hash      string
	Status    string
	Reason    string
	Worker    int
	Hashes    uint64
	ElapsedMS int64
	FoundAt   time.Time
}

// ToProto encodes r as a protobuf Struct.
func (r *ResultMessage) ToProto() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"job_id":     r.JobID,
		"network":    r.Network,
		"height":     r.Height,
		"nonce":      r.Nonce,
		"hash":       r.Hash,
		"status":     r.Status,
		"reason":     r.Reason,
		"worker":     r.Worker,
		"hashes":     r.Hashes,
		"elapsed_ms": r.ElapsedMS,
		"found_at":   r.FoundAt.UTC().Format(time.RFC3339Nano),
	})
}

// ResultFromProto decodes a Struct produced by ToProto.
func ResultFromProto(s *structpb.Struct) (*ResultMessage, error) {
	f := s.GetFields()
	r := &ResultMessage{
		JobID:     f["job_id"].GetStringValue(),
		Network:   f["network"].GetStringValue(),
		Height:    int64(f["height"].GetNumberValue()),
		Nonce:     uint32(f["nonce"].GetNumberValue()),
		Hash:      f["hash"].GetStringValue(),
		Status:    f["status"].GetStringValue(),
		Reason:    f["reason"].GetStringValue(),
		Worker:    int(f["worker"].GetNumberValue()),
		Hashes:    uint64(f["hashes"].GetNumberValue()),
		ElapsedMS: int64(f["elapsed_ms"].GetNumberValue()),
	}
	if r.JobID == "" || r.Status == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "result_message", "result missing job id or status")
	}
	if ts := f["found_at"].GetStringValue(); ts != "" {
		foundAt, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "result_message", "invalid found_at").
				WithContext("job_id", r.JobID)
		}
		r.FoundAt = foundAt
	}
	return r, nil
}

// VerificationMessage is a genesis self-check outcome.
type VerificationMessage struct {
	Network      string
	Pipeline     string
	Hash         string
	OK           bool
	FailedChecks []string
	CheckedAt    time.Time
}

// ToProto encodes v as a protobuf Struct.
func (v *VerificationMessage) ToProto() (*structpb.Struct, error) {
	failed := make([]any, len(v.FailedChecks))
	for i, c := range v.FailedChecks {
		failed[i] = c
	}
	return structpb.NewStruct(map[string]any{
		"network":       v.Network,
		"pipeline":      v.Pipeline,
		"hash":          v.Hash,
		"ok":            v.OK,
		"failed_checks": failed,
		"checked_at":    v.CheckedAt.UTC().Format(time.RFC3339Nano),
	})
}
