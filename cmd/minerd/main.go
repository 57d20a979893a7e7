// Package main implements minerd, which verifies its network's genesis
// block, searches the jobs published by jobmanager and submits solved
// blocks to the node.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/wire"

	"github.com/bardlex/lifpow/internal/bitcoin"
	"github.com/bardlex/lifpow/internal/config"
	"github.com/bardlex/lifpow/internal/database"
	"github.com/bardlex/lifpow/internal/database/postgres"
	"github.com/bardlex/lifpow/internal/genesis"
	"github.com/bardlex/lifpow/internal/hashing"
	"github.com/bardlex/lifpow/internal/messaging"
	"github.com/bardlex/lifpow/internal/mining"
	"github.com/bardlex/lifpow/internal/network"
	"github.com/bardlex/lifpow/internal/validation"
	"github.com/bardlex/lifpow/pkg/errors"
	"github.com/bardlex/lifpow/pkg/log"
)

// maxTimeSkew is how far a header's time may run ahead of the local clock,
// matching the node's own limit.
const maxTimeSkew = 2 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting minerd",
		"version", cfg.Version,
		"network", cfg.Network,
		"workers", cfg.MiningWorkers,
		"batch_size", cfg.MiningBatchSize,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry, err := network.NewRegistry(logger, cfg.EnableExperimentalPoW)
	if err != nil {
		logger.WithError(err).Error("failed to bind hash pipelines")
		os.Exit(1)
	}

	kafkaClient := messaging.NewKafkaClient(cfg.KafkaBrokers, logger)
	defer func() {
		if err := kafkaClient.Close(); err != nil {
			logger.WithError(err).Error("failed to close Kafka client")
		}
	}()

	// Storage is optional; a miner keeps mining without it.
	var store solutionStore
	var verifications verificationStore
	dbManager, err := database.NewManager(ctx, cfg.DatabaseConfig(), logger)
	if err != nil {
		logger.WithError(err).Warn("database unavailable, solutions will not be stored")
	} else {
		defer func() {
			if err := dbManager.Close(); err != nil {
				logger.WithError(err).Error("failed to close database manager")
			}
		}()
		store = dbManager
		verifications = dbManager
	}

	// A miner whose pipeline cannot reproduce its own genesis block would
	// only ever produce blocks the network rejects.
	verifier := genesis.NewVerifier(registry, logger)
	if err := selfCheck(ctx, logger, verifier, cfg.Network, kafkaClient, verifications); err != nil {
		logger.WithError(err).Error("genesis self-check failed")
		os.Exit(1)
	}

	nodeClient, err := bitcoin.NewRPCClient(
		cfg.BitcoinRPCHost,
		cfg.BitcoinRPCPort,
		cfg.BitcoinRPCUser,
		cfg.BitcoinRPCPassword,
		logger,
	)
	if err != nil {
		logger.WithError(err).Error("failed to create node RPC client")
		os.Exit(1)
	}
	defer nodeClient.Close()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := nodeClient.Ping(pingCtx); err != nil {
		logger.WithError(err).Error("failed to connect to node")
		os.Exit(1)
	}
	logger.Info("connected to node", "addr", cfg.RPCAddr())

	coord := mining.NewCoordinator(mining.Config{
		Workers:   cfg.MiningWorkers,
		BatchSize: uint32(cfg.MiningBatchSize),
	}, logger)
	validator := validation.NewSolutionValidator(registry, 4*cfg.MiningJobTimeout, maxTimeSkew)

	miner := NewMiner(cfg, logger, nodeClient, registry, coord, validator, kafkaClient, store)

	if dbManager != nil {
		dbManager.StartPeriodicTasks(ctx, cfg.Network, coord.Meter(), 30*time.Second,
			nodeClient.Breaker(), kafkaClient.Breaker())
	}

	hostname, _ := os.Hostname()
	groupID := cfg.KafkaGroupID + "-minerd-" + hostname
	go func() {
		handler := func(ctx context.Context, _ string, data []byte) error {
			msg, err := messaging.DecodeJob(data)
			if err != nil {
				return err
			}
			return miner.HandleJob(ctx, msg)
		}
		if err := kafkaClient.StartJSONConsumer(ctx, messaging.TopicJobs, groupID, handler); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("job consumer stopped")
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := miner.Start(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("miner failed")
			cancel()
		}
	}()

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := miner.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown failed")
		os.Exit(1)
	}

	logger.Info("minerd stopped")
}

// verificationPublisher announces genesis self-check outcomes.
type verificationPublisher interface {
	PublishVerification(ctx context.Context, v *messaging.VerificationMessage) error
}

// verificationStore persists genesis self-check outcomes.
type verificationStore interface {
	RecordVerification(ctx context.Context, v *postgres.Verification, report any) error
}

// selfCheck verifies networkID's genesis block and reports the outcome.
// Publishing and storing are best effort; only a failed verification is
// returned. store may be nil.
func selfCheck(ctx context.Context, logger *log.Logger, verifier *genesis.Verifier, networkID string, publisher verificationPublisher, store verificationStore) error {
	report, err := verifier.VerifyGenesis(networkID)
	if err != nil {
		return err
	}

	failed := make([]string, len(report.Discrepancies))
	for i, d := range report.Discrepancies {
		failed[i] = string(d.Check)
	}
	now := time.Now()

	msg := &messaging.VerificationMessage{
		Network:      report.Network,
		Pipeline:     string(report.Pipeline),
		Hash:         report.Hash,
		OK:           report.OK(),
		FailedChecks: failed,
		CheckedAt:    now,
	}
	if err := publisher.PublishVerification(ctx, msg); err != nil {
		logger.WithError(err).Warn("failed to publish genesis verification")
	}

	if store != nil {
		v := &postgres.Verification{
			Network:      report.Network,
			Pipeline:     string(report.Pipeline),
			Hash:         report.Hash,
			OK:           report.OK(),
			FailedChecks: strings.Join(failed, ","),
			CheckedAt:    now,
		}
		if err := store.RecordVerification(ctx, v, report); err != nil {
			logger.WithError(err).Warn("failed to store genesis verification")
		}
	}

	return report.Err()
}

// resultPublisher reports solution outcomes to jobmanager and operators.
type resultPublisher interface {
	PublishResult(ctx context.Context, result *messaging.ResultMessage) error
}

// solutionStore records searches and solutions.
type solutionStore interface {
	RecordSolution(ctx context.Context, s *postgres.Solution) error
	UpdateSolutionStatus(ctx context.Context, s *postgres.Solution, status, reason string) error
	RecordSearch(ctx context.Context, job *mining.Job, pipeline string, res mining.Result)
}

// Miner searches one job at a time. A newer job replaces both the pending
// one and the search in progress.
type Miner struct {
	cfg       *config.Config
	logger    *log.Logger
	node      bitcoin.NodeClient
	registry  *hashing.Registry
	coord     *mining.Coordinator
	validator *validation.SolutionValidator
	publisher resultPublisher
	store     solutionStore

	mu         sync.Mutex
	cancelRun  context.CancelFunc
	currentJob string

	jobs     chan *messaging.JobMessage
	done     chan struct{}
	stopOnce sync.Once
}

// NewMiner creates a miner. store may be nil.
func NewMiner(cfg *config.Config, logger *log.Logger, node bitcoin.NodeClient, registry *hashing.Registry,
	coord *mining.Coordinator, validator *validation.SolutionValidator, publisher resultPublisher, store solutionStore) *Miner {
	return &Miner{
		cfg:       cfg,
		logger:    logger.WithComponent("minerd").WithNetwork(cfg.Network),
		node:      node,
		registry:  registry,
		coord:     coord,
		validator: validator,
		publisher: publisher,
		store:     store,
		jobs:      make(chan *messaging.JobMessage, 1),
		done:      make(chan struct{}),
	}
}

// HandleJob queues msg, dropping any job still waiting, and interrupts the
// running search. Jobs for other networks are ignored.
func (m *Miner) HandleJob(_ context.Context, msg *messaging.JobMessage) error {
	if msg.Network != m.cfg.Network {
		return nil
	}

	// The running search is cancelled before msg becomes visible to Start,
	// so the cancel can only ever hit the search msg replaces.
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelRun != nil {
		m.cancelRun()
	}
	for {
		select {
		case m.jobs <- msg:
			m.logger.Debug("job queued", "job_id", msg.JobID, "clean_jobs", msg.CleanJobs)
			return nil
		default:
		}
		select {
		case <-m.jobs:
		default:
		}
	}
}

// Start searches queued jobs until ctx is cancelled or Shutdown is called.
func (m *Miner) Start(ctx context.Context) error {
	m.logger.Info("miner starting", "workers", m.coord.Workers())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			return nil
		case msg := <-m.jobs:
			m.mine(ctx, msg)
		}
	}
}

// Shutdown stops Start and the running search. Later calls do nothing.
func (m *Miner) Shutdown(_ context.Context) error {
	m.logger.Info("shutting down miner")
	m.stopOnce.Do(func() {
		m.mu.Lock()
		if m.cancelRun != nil {
			m.cancelRun()
		}
		m.mu.Unlock()
		close(m.done)
	})
	return nil
}

// CurrentJobID returns the ID of the job being searched, if any.
func (m *Miner) CurrentJobID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentJob
}

// mine searches msg for up to MiningJobTimeout and handles any solution.
func (m *Miner) mine(ctx context.Context, msg *messaging.JobMessage) {
	logger := m.logger.WithJob(msg.JobID, msg.Height)

	job, block, err := msg.Job()
	if err != nil {
		logger.WithError(err).Error("discarding undecodable job")
		return
	}
	pipeline, err := m.registry.Pipeline(job.NetworkID)
	if err != nil {
		logger.WithError(err).Error("no pipeline for job network")
		return
	}

	ctx = log.ContextWithJob(ctx, job.NetworkID, job.ID)
	runCtx, cancel := context.WithTimeout(ctx, m.cfg.MiningJobTimeout)
	defer cancel()

	// A job queued before cancelRun was set found nothing to cancel.
	m.mu.Lock()
	superseded := len(m.jobs) > 0
	if !superseded {
		m.cancelRun = cancel
		m.currentJob = job.ID
	}
	m.mu.Unlock()
	if superseded {
		logger.Debug("job superseded before search")
		return
	}
	defer func() {
		m.mu.Lock()
		m.cancelRun = nil
		m.currentJob = ""
		m.mu.Unlock()
	}()

	m.logger.LogJobDistribution(job.ID, job.Height, m.coord.Workers(), string(pipeline.Name))
	res, err := m.coord.Run(runCtx, job, pipeline.Func)
	if m.store != nil {
		m.store.RecordSearch(ctx, job, string(pipeline.Name), res)
	}

	if err != nil {
		if errors.IsType(err, errors.ErrorTypeTimeout) {
			logger.Debug("search stopped", "hashes", res.Hashes, "elapsed", res.Elapsed)
			return
		}
		logger.WithError(err).Error("search failed")
		return
	}
	if !res.Found {
		logger.Info("nonce range exhausted", "hashes", res.Hashes)
		return
	}

	m.handleSolution(ctx, job, block, string(pipeline.Name), res)
}

// handleSolution re-validates a found nonce, submits the block when the
// digest meets the header's bits and publishes the outcome.
func (m *Miner) handleSolution(ctx context.Context, job *mining.Job, block *wire.MsgBlock, pipeline string, res mining.Result) {
	logger := m.logger.WithJob(job.ID, job.Height)
	foundAt := time.Now()

	result := &messaging.ResultMessage{
		JobID:     job.ID,
		Network:   job.NetworkID,
		Height:    job.Height,
		Nonce:     res.Nonce,
		Hash:      res.Hash.String(),
		Worker:    res.Worker,
		Hashes:    res.Hashes,
		ElapsedMS: res.Elapsed.Milliseconds(),
		FoundAt:   foundAt,
	}

	sol := &validation.Solution{
		JobID:   job.ID,
		Network: job.NetworkID,
		Nonce:   res.Nonce,
		Hash:    res.Hash,
		FoundAt: foundAt,
	}
	candidate, err := m.validator.Validate(sol, job)
	switch {
	case err != nil:
		reason := validation.RejectReason(err)
		result.Status = messaging.StatusInvalid
		if reason == validation.ReasonStale {
			result.Status = messaging.StatusStale
		}
		result.Reason = reason
		logger.WithError(err).Warn("solution failed validation", "reason", reason)
		m.publish(ctx, result)
		return
	case !candidate:
		// Meets an eased job target but not the block's bits.
		result.Status = messaging.StatusRejected
		result.Reason = validation.ReasonHighHash
		logger.Info("solution below block difficulty", "hash", result.Hash)
		m.publish(ctx, result)
		return
	}

	block.Header.Nonce = res.Nonce

	record := &postgres.Solution{
		JobID:      job.ID,
		Network:    job.NetworkID,
		Pipeline:   pipeline,
		Height:     job.Height,
		Nonce:      int64(res.Nonce),
		Hash:       result.Hash,
		Bits:       int64(job.Header.Bits()),
		Difficulty: job.Difficulty(),
		Hashes:     int64(res.Hashes),
		ElapsedMS:  result.ElapsedMS,
		Status:     postgres.StatusFound,
		FoundAt:    foundAt,
	}
	stored := false
	if m.store != nil {
		if err := m.store.RecordSolution(ctx, record); err != nil {
			logger.WithError(err).Warn("failed to store solution")
		} else {
			stored = true
		}
	}

	submitStart := time.Now()
	submitErr := m.node.SubmitBlock(ctx, block)
	logger.LogDuration("block_submission", time.Since(submitStart))

	status := postgres.StatusAccepted
	if submitErr != nil {
		status = postgres.StatusRejected
		result.Status = messaging.StatusRejected
		result.Reason = validation.RejectReason(submitErr)
		if result.Reason == "" {
			result.Reason = submitErr.Error()
		}
		logger.WithError(submitErr).Error("node rejected block", "hash", result.Hash)
	} else {
		result.Status = messaging.StatusAccepted
		logger.Info("block accepted", "hash", result.Hash, "nonce", res.Nonce)
	}

	if stored {
		if err := m.store.UpdateSolutionStatus(ctx, record, status, result.Reason); err != nil {
			logger.WithError(err).Warn("failed to update solution status")
		}
	}
	m.publish(ctx, result)
}

func (m *Miner) publish(ctx context.Context, result *messaging.ResultMessage) {
	if err := m.publisher.PublishResult(ctx, result); err != nil {
		m.logger.WithError(err).Error("failed to publish result", "job_id", result.JobID, "status", result.Status)
	}
}
