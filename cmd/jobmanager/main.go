// Package main implements the jobmanager service for lifpow.
// This service builds search jobs from node block templates and distributes them via Kafka.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bardlex/lifpow/internal/bitcoin"
	"github.com/bardlex/lifpow/internal/config"
	"github.com/bardlex/lifpow/internal/database/redis"
	"github.com/bardlex/lifpow/internal/messaging"
	"github.com/bardlex/lifpow/pkg/log"
)

// pollInterval is how often the tip is polled when ZMQ notifications are
// missed.
const pollInterval = 5 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting jobmanager",
		"version", cfg.Version,
		"network", cfg.Network,
		"bitcoin_host", cfg.BitcoinRPCHost,
		"bitcoin_port", cfg.BitcoinRPCPort,
	)

	profile, err := cfg.Profile()
	if err != nil {
		logger.WithError(err).Error("unknown network")
		os.Exit(1)
	}

	builder, err := bitcoin.NewTemplateBuilder(profile.Params, cfg.PayoutAddress, bitcoin.DefaultCoinbaseTag)
	if err != nil {
		logger.WithError(err).Error("invalid payout address")
		os.Exit(1)
	}

	bitcoinClient, err := bitcoin.NewRPCClient(
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
	defer bitcoinClient.Close()

	// Test node connection with context
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer pingCancel()
	if err := bitcoinClient.Ping(pingCtx); err != nil {
		logger.WithError(err).Error("failed to connect to node")
		os.Exit(1)
	}
	if info, err := bitcoinClient.GetBlockchainInfo(pingCtx); err == nil {
		logger.Info("connected to node", "chain", info.Chain, "blocks", info.Blocks)
	}

	kafkaClient := messaging.NewKafkaClient(cfg.KafkaBrokers, logger)
	defer func() {
		if err := kafkaClient.Close(); err != nil {
			logger.WithError(err).Warn("failed to close Kafka client")
		}
	}()

	// Redis only mirrors the current job; run without it if unavailable.
	var store jobStore
	redisClient, err := redis.NewClient(cfg.RedisConfig())
	if err != nil {
		logger.WithError(err).Warn("Redis unavailable, current job will not be cached")
	} else {
		defer redisClient.Close()
		store = redisClient
	}

	jobManager := NewJobManager(cfg, logger, bitcoinClient, builder, kafkaClient, store)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startTipWatcher(ctx, cfg.BitcoinZMQAddr, logger, jobManager)

	// An accepted block means the tip moved under us.
	go func() {
		err := kafkaClient.StartConsumer(ctx, messaging.TopicSolutions, cfg.KafkaGroupID+"-jobmanager",
			messaging.NewResultMessage, messaging.ResultHandler(jobManager.handleResult))
		if err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("result consumer stopped")
		}
	}()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := jobManager.Start(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("job manager failed")
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

	if err := jobManager.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown failed")
		os.Exit(1)
	}

	logger.Info("jobmanager stopped")
}

// startTipWatcher subscribes to node block notifications. Polling still
// covers tip changes if the subscription cannot be set up.
func startTipWatcher(ctx context.Context, endpoint string, logger *log.Logger, jm *JobManager) {
	if endpoint == "" {
		return
	}
	notifier, err := bitcoin.NewZMQNotifier(endpoint, logger)
	if err != nil {
		logger.WithError(err).Warn("ZMQ unavailable, relying on polling")
		return
	}
	if err := notifier.Subscribe(bitcoin.TopicHashBlock); err != nil {
		logger.WithError(err).Warn("ZMQ subscribe failed, relying on polling")
		_ = notifier.Close()
		return
	}
	if err := notifier.Connect(); err != nil {
		logger.WithError(err).Warn("ZMQ connect failed, relying on polling")
		_ = notifier.Close()
		return
	}

	watcher := bitcoin.NewTipWatcher(logger, func(string) error {
		jm.RequestRefresh()
		return nil
	})
	go func() {
		defer notifier.Close()
		_ = notifier.Listen(ctx, watcher.HandleMessage)
	}()
}

// jobPublisher distributes jobs to miners.
type jobPublisher interface {
	PublishJob(ctx context.Context, job *messaging.JobMessage) error
}

// jobStore mirrors published jobs for operators and late-joining miners.
type jobStore interface {
	SetCurrentJob(ctx context.Context, network string, job any) error
	SetJobTemplate(ctx context.Context, jobID string, job any, expiration time.Duration) error
}

// JobManager manages search job creation and distribution
type JobManager struct {
	cfg       *config.Config
	logger    *log.Logger
	node      bitcoin.NodeClient
	builder   *bitcoin.TemplateBuilder
	publisher jobPublisher
	store     jobStore

	// Current job state
	mu         sync.Mutex
	currentTip string
	currentJob string
	jobCounter int64

	refresh  chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewJobManager creates a new job manager. store may be nil.
func NewJobManager(cfg *config.Config, logger *log.Logger, node bitcoin.NodeClient, builder *bitcoin.TemplateBuilder, publisher jobPublisher, store jobStore) *JobManager {
	return &JobManager{
		cfg:       cfg,
		logger:    logger.WithComponent("jobmanager").WithNetwork(cfg.Network),
		node:      node,
		builder:   builder,
		publisher: publisher,
		store:     store,
		refresh:   make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Start publishes an initial job and then keeps miners on the current tip
// until ctx is cancelled or Shutdown is called.
func (jm *JobManager) Start(ctx context.Context) error {
	jm.logger.Info("job manager starting")

	if err := jm.createNewJob(ctx, true); err != nil {
		jm.logger.WithError(err).Error("failed to create initial job")
		return err
	}

	poll := time.NewTicker(pollInterval)
	defer poll.Stop()

	// Fresh templates pick up new transactions and a new extra nonce.
	rotate := time.NewTicker(jm.cfg.MiningJobTimeout)
	defer rotate.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-jm.done:
			return nil
		case <-jm.refresh:
			if err := jm.createNewJob(ctx, true); err != nil {
				jm.logger.WithError(err).Error("failed to refresh job")
			}
		case <-poll.C:
			if err := jm.checkForNewBlock(ctx); err != nil {
				jm.logger.WithError(err).Error("failed to check for new block")
			}
		case <-rotate.C:
			if err := jm.createNewJob(ctx, false); err != nil {
				jm.logger.WithError(err).Error("failed to rotate job")
			}
		}
	}
}

// Shutdown gracefully shuts down the job manager
func (jm *JobManager) Shutdown(_ context.Context) error {
	jm.stopOnce.Do(func() {
		jm.logger.Info("shutting down job manager")
		close(jm.done)
	})
	return nil
}

// RequestRefresh asks Start to replace the current job. Requests made
// while one is pending are merged.
func (jm *JobManager) RequestRefresh() {
	select {
	case jm.refresh <- struct{}{}:
	default:
	}
}

// CurrentJobID returns the ID of the last published job.
func (jm *JobManager) CurrentJobID() string {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	return jm.currentJob
}

// checkForNewBlock creates a new job when the node's tip has moved
func (jm *JobManager) checkForNewBlock(ctx context.Context) error {
	hashCtx, hashCancel := context.WithTimeout(ctx, 5*time.Second)
	defer hashCancel()
	bestHash, err := jm.node.GetBestBlockHash(hashCtx)
	if err != nil {
		return fmt.Errorf("failed to get best block hash: %w", err)
	}

	jm.mu.Lock()
	tip := jm.currentTip
	jm.mu.Unlock()

	if tip == bestHash {
		return nil
	}
	if tip != "" {
		jm.logger.Info("new block detected", "old_prev_hash", tip, "new_prev_hash", bestHash)
	}
	return jm.createNewJob(ctx, true)
}

// createNewJob fetches a template, builds a job on it and publishes it.
// clean marks jobs that make earlier ones worthless.
func (jm *JobManager) createNewJob(ctx context.Context, clean bool) error {
	templateCtx, templateCancel := context.WithTimeout(ctx, 10*time.Second)
	defer templateCancel()
	tmpl, err := jm.node.GetBlockTemplate(templateCtx)
	if err != nil {
		return fmt.Errorf("failed to get block template: %w", err)
	}

	jt, err := jm.builder.Build(tmpl)
	if err != nil {
		return fmt.Errorf("failed to build job template: %w", err)
	}

	jm.mu.Lock()
	jm.jobCounter++
	jobID := fmt.Sprintf("%s-%d-%d", jm.cfg.Network, jt.Height, jm.jobCounter)
	jm.mu.Unlock()

	job, err := jt.Job(jobID, jm.cfg.Network)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	msg, err := messaging.NewJobMessage(job, jt.Block(0), jt.ExtraNonce, clean)
	if err != nil {
		return err
	}

	ctx = log.ContextWithJob(ctx, jm.cfg.Network, jobID)

	if err := jm.publisher.PublishJob(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}

	if jm.store != nil {
		if err := jm.store.SetCurrentJob(ctx, jm.cfg.Network, msg); err != nil {
			jm.logger.WithError(err).Warn("failed to cache current job")
		}
		if err := jm.store.SetJobTemplate(ctx, jobID, msg, 10*jm.cfg.MiningJobTimeout); err != nil {
			jm.logger.WithError(err).Warn("failed to cache job template")
		}
	}

	jm.mu.Lock()
	jm.currentTip = jt.PrevBlock.String()
	jm.currentJob = jobID
	jm.mu.Unlock()

	jm.logger.WithJob(jobID, jt.Height).Info("new job created and published",
		"prev_hash", msg.PrevHash,
		"bits", msg.Bits,
		"difficulty", msg.Difficulty,
		"transactions", len(jt.Transactions),
		"extra_nonce", jt.ExtraNonce,
		"clean_jobs", clean,
	)

	return nil
}

// handleResult reacts to solution results published by miners.
func (jm *JobManager) handleResult(_ context.Context, r *messaging.ResultMessage) error {
	if r.Network != jm.cfg.Network {
		return nil
	}

	logger := jm.logger.WithJob(r.JobID, r.Height)
	switch r.Status {
	case messaging.StatusAccepted:
		logger.Info("block accepted, refreshing job", "hash", r.Hash, "nonce", r.Nonce)
		jm.RequestRefresh()
	case messaging.StatusStale:
		logger.Info("stale solution reported, refreshing job", "hash", r.Hash)
		jm.RequestRefresh()
	default:
		logger.Warn("solution not accepted", "status", r.Status, "reason", r.Reason)
	}
	return nil
}
