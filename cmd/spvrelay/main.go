// Package main implements the spvrelay service. It consumes proof requests
// from Kafka, proves transactions against a Bitcoin node with SPV proofs, and
// publishes the results and proof bundles.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"google.golang.org/protobuf/proto"

	"github.com/bardlex/gospv/internal/bitcoin"
	"github.com/bardlex/gospv/internal/config"
	"github.com/bardlex/gospv/internal/database"
	"github.com/bardlex/gospv/internal/database/influx"
	"github.com/bardlex/gospv/internal/database/postgres"
	"github.com/bardlex/gospv/internal/database/redis"
	"github.com/bardlex/gospv/internal/messaging"
	"github.com/bardlex/gospv/internal/spv"
	"github.com/bardlex/gospv/pkg/errors"
	"github.com/bardlex/gospv/pkg/log"
)

const (
	pendingSweepInterval = time.Minute
	consumerGroupSuffix  = "-requests"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting spvrelay",
		"version", cfg.Version,
		"network", cfg.BitcoinNetwork,
		"required_confirmations", cfg.RequiredConfirmations,
		"worker_pool_size", cfg.WorkerPoolSize,
	)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("spvrelay failed")
		os.Exit(1)
	}

	logger.Info("spvrelay stopped")
}

func run(cfg *config.Config, logger *log.Logger) error {
	params, err := cfg.ChainParams()
	if err != nil {
		return err
	}

	rpcClient, err := bitcoin.NewRPCClient(cfg.BitcoinRPCHost, cfg.BitcoinRPCPort,
		cfg.BitcoinRPCUser, cfg.BitcoinRPCPassword, logger)
	if err != nil {
		return err
	}
	defer rpcClient.Close()

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer startupCancel()
	if err := rpcClient.Ping(startupCtx); err != nil {
		return err
	}

	db, err := database.NewManager(&database.Config{
		Postgres: &postgres.Config{
			Host:         cfg.PostgresHost,
			Port:         cfg.PostgresPort,
			Database:     cfg.PostgresDB,
			User:         cfg.PostgresUser,
			Password:     cfg.PostgresPassword,
			SSLMode:      cfg.PostgresSSLMode,
			MaxOpenConns: cfg.WorkerPoolSize,
			MaxIdleConns: cfg.WorkerPoolSize / 2,
			MaxLifetime:  30 * time.Minute,
		},
		Redis: &redis.Config{
			Addr:         cfg.RedisAddr,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			PoolSize:     cfg.WorkerPoolSize,
			MinIdleConns: 2,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Influx: &influx.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		},
		Retention: cfg.LedgerRetention,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.WithError(err).Error("failed to close databases")
		}
	}()

	kafkaClient := messaging.NewKafkaClient(cfg.KafkaBrokers, logger)
	defer func() {
		if err := kafkaClient.Close(); err != nil {
			logger.WithError(err).Error("failed to close Kafka client")
		}
	}()

	notifier, err := bitcoin.NewZMQNotifier(cfg.BitcoinZMQAddr, logger)
	if err != nil {
		return err
	}
	defer func() { _ = notifier.Close() }()

	relay := NewRelay(cfg, params, logger, spv.NewValidator(rpcClient), kafkaClient, db)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db.StartPeriodicTasks(ctx)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 3)

	go func() {
		errChan <- relay.Start(ctx)
	}()

	go func() {
		errChan <- listenBlocks(ctx, notifier, relay, logger)
	}()

	go func() {
		errChan <- messaging.StartJSONConsumer(ctx, kafkaClient, messaging.TopicProofRequests,
			cfg.KafkaGroupID+consumerGroupSuffix, relay.HandleRequest)
	}()

	// Wait for shutdown signal or a component failure
	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("shutdown signal received", "signal", sig.String())
	case runErr = <-errChan:
		if stderrors.Is(runErr, context.Canceled) {
			runErr = nil
		}
	}
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := relay.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown failed")
		if runErr == nil {
			runErr = err
		}
	}

	return runErr
}

// listenBlocks re-checks pending requests whenever the node announces a block.
func listenBlocks(ctx context.Context, notifier *bitcoin.ZMQNotifier, relay *Relay, logger *log.Logger) error {
	if err := notifier.Subscribe(bitcoin.TopicHashBlock); err != nil {
		return err
	}
	if err := notifier.Connect(); err != nil {
		return err
	}

	handler := bitcoin.NewBlockNotificationHandler(logger)
	handler.SetNewBlockHandler(func(blockHash chainhash.Hash) error {
		return relay.OnBlock(ctx, blockHash)
	})

	return notifier.Listen(ctx, handler.HandleMessage)
}

type proofVerifier interface {
	Verify(ctx context.Context, txHash chainhash.Hash, requiredConfirmations int, previousEpochDifficulty, currentEpochDifficulty *big.Int) (*spv.Bundle, error)
}

type resultPublisher interface {
	PublishJSON(ctx context.Context, topic, key string, v any) error
	PublishProto(ctx context.Context, topic, key string, msg proto.Message) error
}

type resultStore interface {
	RecordVerification(ctx context.Context, v *postgres.ProofVerification) error
	CacheResult(ctx context.Context, key string, result any, ttl time.Duration)
	CachedResult(ctx context.Context, key string, dest any) bool
	ClaimRequest(ctx context.Context, key string, ttl time.Duration) bool
	ReleaseRequest(ctx context.Context, key string)
	RecordPending(pending int, expired int64)
}

// Relay proves transactions for incoming requests
type Relay struct {
	cfg       *config.Config
	params    *chaincfg.Params
	logger    *log.Logger
	verifier  proofVerifier
	publisher resultPublisher
	store     resultStore
	pending   *pendingSet

	// Worker pool
	queue chan *pendingRequest
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup

	now func() time.Time
}

// NewRelay creates a new relay
func NewRelay(cfg *config.Config, params *chaincfg.Params, logger *log.Logger, verifier proofVerifier, publisher resultPublisher, store resultStore) *Relay {
	return &Relay{
		cfg:       cfg,
		params:    params,
		logger:    logger.WithComponent("relay"),
		verifier:  verifier,
		publisher: publisher,
		store:     store,
		pending:   newPendingSet(cfg.PendingLimit, cfg.PendingMaxAge),
		queue:     make(chan *pendingRequest, cfg.WorkerPoolSize*10),
		done:      make(chan struct{}),
		now:       time.Now,
	}
}

// Start runs the worker pool and the pending sweeper until ctx is done or
// Shutdown is called.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("relay starting")

	for i := 0; i < r.cfg.WorkerPoolSize; i++ {
		r.wg.Add(1)
		go r.worker(ctx, i)
	}

	ticker := time.NewTicker(pendingSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.done:
			return nil
		case <-ticker.C:
			r.sweepExpired(ctx)
		}
	}
}

// Shutdown stops the workers and waits for in-flight requests
func (r *Relay) Shutdown(ctx context.Context) error {
	r.logger.Info("shutting down relay", "pending", r.pending.len())
	r.once.Do(func() { close(r.done) })

	finished := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "relay_shutdown",
			"workers did not finish in time")
	}
}

// HandleRequest queues a proof request. It blocks while the queue is full, so
// the Kafka consumer slows down instead of dropping requests.
func (r *Relay) HandleRequest(ctx context.Context, _ string, msg *messaging.ProofRequestMessage) error {
	if msg.RequiredConfirmations == 0 {
		msg.RequiredConfirmations = r.cfg.RequiredConfirmations
	}
	return r.enqueue(ctx, &pendingRequest{msg: msg, firstSeen: r.now()})
}

func (r *Relay) enqueue(ctx context.Context, req *pendingRequest) error {
	select {
	case r.queue <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return errors.New(errors.ErrorTypeInternal, "enqueue_request", "relay shutting down").
			WithContext("request_id", req.msg.RequestID)
	}
}

// OnBlock re-submits every pending request and expires those past their age.
func (r *Relay) OnBlock(ctx context.Context, blockHash chainhash.Hash) error {
	ready, expired := r.pending.drain(r.now())

	r.logger.Debug("new block, re-checking pending requests",
		"block_hash", blockHash.String(),
		"ready", len(ready),
		"expired", len(expired),
	)

	for _, req := range expired {
		r.expire(ctx, req)
	}

	for i, req := range ready {
		if err := r.enqueue(ctx, req); err != nil {
			// Keep what could not be queued for the next block.
			r.pending.restore(ready[i:])
			return err
		}
	}

	r.store.RecordPending(r.pending.len(), r.pending.expiredTotal())
	return nil
}

func (r *Relay) sweepExpired(ctx context.Context) {
	for _, req := range r.pending.expire(r.now()) {
		r.expire(ctx, req)
	}
	r.store.RecordPending(r.pending.len(), r.pending.expiredTotal())
}

func (r *Relay) expire(ctx context.Context, req *pendingRequest) {
	result := r.newResult(req.msg, messaging.StatusExpired)
	result.ErrorType = string(errors.ErrorTypeConfirmation)
	result.ErrorMessage = fmt.Sprintf("gave up after %d attempts: %s", req.attempts, req.lastError)
	r.finish(ctx, req, result, nil)
}

// worker processes requests from the queue
func (r *Relay) worker(ctx context.Context, workerID int) {
	defer r.wg.Done()

	logger := r.logger.WithFields("worker_id", workerID)
	logger.Debug("worker started")
	defer logger.Debug("worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case req := <-r.queue:
			r.process(ctx, req)
		}
	}
}

// process proves one request and publishes its outcome.
func (r *Relay) process(ctx context.Context, req *pendingRequest) {
	msg := req.msg

	txHash, err := msg.Hash()
	if err != nil {
		r.reject(ctx, req, err)
		return
	}
	prev, curr, err := msg.EpochDifficulties()
	if err != nil {
		r.reject(ctx, req, err)
		return
	}
	if msg.RequiredConfirmations < 1 {
		r.reject(ctx, req, errors.Wrap(spv.ErrInvalidConfirmationCount, errors.ErrorTypeValidation,
			"parse_request", "invalid required confirmations").
			WithContext("required_confirmations", msg.RequiredConfirmations))
		return
	}

	key := redis.ResultKey(txHash.String(), msg.RequiredConfirmations, prev.String(), curr.String())

	var cached messaging.ProofResultMessage
	if r.store.CachedResult(ctx, key, &cached) {
		result := cached
		result.RequestID = msg.RequestID
		r.finish(ctx, req, &result, nil)
		return
	}

	if !r.store.ClaimRequest(ctx, key, r.cfg.VerifyTimeout) {
		// An identical request is being proven; its cached result serves this
		// one on the next block.
		r.park(ctx, req, errors.ErrorTypeConfirmation, "identical request in flight")
		return
	}
	defer r.store.ReleaseRequest(ctx, key)

	verifyCtx, cancel := context.WithTimeout(ctx, r.cfg.VerifyTimeout)
	defer cancel()

	bundle, err := r.verifier.Verify(verifyCtx, txHash, msg.RequiredConfirmations, prev, curr)
	if err != nil {
		r.handleFailure(ctx, req, err)
		return
	}

	result := r.newResult(msg, messaging.StatusVerified)
	result.Confirmations = bundle.Confirmations
	result.BlockHeight = bundle.BlockHeight
	result.Outputs = messaging.DecodeOutputs(bundle.Tx, r.params)
	if header, err := spv.DecodeHeader(bundle.Proof.BitcoinHeaders[:spv.HeaderSize]); err == nil {
		result.BlockHash = spv.HashHeader(header).String()
	}

	r.finish(ctx, req, result, bundle)
	r.store.CacheResult(ctx, key, result, r.cfg.ResultCacheTTL)
}

// handleFailure classifies a verification error. Proof and input failures are
// final; anything that may resolve with time waits for the next block.
func (r *Relay) handleFailure(ctx context.Context, req *pendingRequest, err error) {
	var insufficient *spv.InsufficientConfirmationsError

	switch {
	case errors.IsType(err, errors.ErrorTypeProof), errors.IsType(err, errors.ErrorTypeValidation):
		r.reject(ctx, req, err)
	case stderrors.As(err, &insufficient):
		r.park(ctx, req, errors.ErrorTypeConfirmation, err.Error(), withConfirmations(insufficient.Have))
	case ctx.Err() != nil:
		// Shutting down; the request will be redelivered.
		r.logger.Debug("verification interrupted by shutdown", "request_id", req.msg.RequestID)
	case stderrors.Is(err, context.DeadlineExceeded):
		r.park(ctx, req, errors.ErrorTypeTimeout, err.Error())
	case errors.IsRetryable(err):
		r.park(ctx, req, errors.ErrorType(errorType(err)), err.Error())
	default:
		result := r.newResult(req.msg, messaging.StatusError)
		result.ErrorType = errorType(err)
		result.ErrorMessage = err.Error()
		r.finish(ctx, req, result, nil)
	}
}

func (r *Relay) reject(ctx context.Context, req *pendingRequest, err error) {
	result := r.newResult(req.msg, messaging.StatusInvalid)
	result.ErrorType = errorType(err)
	result.ErrorMessage = err.Error()
	r.finish(ctx, req, result, nil)
}

type resultOption func(*messaging.ProofResultMessage)

func withConfirmations(n int) resultOption {
	return func(m *messaging.ProofResultMessage) { m.Confirmations = n }
}

// park moves req to the pending set and tells the requester to wait. A full
// pending set turns the request into an error.
func (r *Relay) park(ctx context.Context, req *pendingRequest, errType errors.ErrorType, reason string, opts ...resultOption) {
	if !r.pending.park(req, reason) {
		result := r.newResult(req.msg, messaging.StatusError)
		result.ErrorType = string(errors.ErrorTypeInternal)
		result.ErrorMessage = "pending set is full: " + reason
		r.finish(ctx, req, result, nil)
		return
	}

	result := r.newResult(req.msg, messaging.StatusPending)
	result.ErrorType = string(errType)
	result.ErrorMessage = reason
	for _, opt := range opts {
		opt(result)
	}
	r.finish(ctx, req, result, nil)
}

func (r *Relay) newResult(msg *messaging.ProofRequestMessage, status string) *messaging.ProofResultMessage {
	return &messaging.ProofResultMessage{
		RequestID:             msg.RequestID,
		TxHash:                strings.ToLower(msg.TxHash),
		Status:                status,
		RequiredConfirmations: msg.RequiredConfirmations,
	}
}

// finish publishes a result, and the bundle for verified proofs. Terminal
// outcomes are also recorded in the ledger.
func (r *Relay) finish(ctx context.Context, req *pendingRequest, result *messaging.ProofResultMessage, bundle *spv.Bundle) {
	now := r.now()
	elapsed := now.Sub(req.firstSeen)
	result.ProcessedAt = now
	result.ProcessingTimeMs = float64(elapsed.Microseconds()) / 1000

	logger := r.logger.WithRequest(result.RequestID, result.TxHash, result.RequiredConfirmations)
	logger.LogVerification(result.TxHash, result.Status, result.BlockHeight, result.Confirmations, elapsed)
	if result.ErrorMessage != "" {
		logger.Debug("verification detail", "error_type", result.ErrorType, "error", result.ErrorMessage)
	}

	if err := r.publisher.PublishJSON(ctx, messaging.TopicProofResults, result.TxHash, result); err != nil {
		logger.WithError(err).Error("failed to publish proof result")
	}

	if bundle != nil {
		msg, err := messaging.ProofBundleToProto(result.RequestID, bundle)
		if err != nil {
			logger.WithError(err).Error("failed to encode proof bundle")
		} else if err := r.publisher.PublishProto(ctx, messaging.TopicProofBundles, result.TxHash, msg); err != nil {
			logger.WithError(err).Error("failed to publish proof bundle")
		}
	}

	if result.Status == messaging.StatusPending {
		return
	}

	if err := r.store.RecordVerification(ctx, ledgerRecord(req.msg, result, now)); err != nil {
		logger.WithError(err).Error("failed to record verification")
	}
}

func ledgerRecord(msg *messaging.ProofRequestMessage, result *messaging.ProofResultMessage, at time.Time) *postgres.ProofVerification {
	v := &postgres.ProofVerification{
		RequestID:               result.RequestID,
		TxHash:                  result.TxHash,
		Status:                  result.Status,
		RequiredConfirmations:   result.RequiredConfirmations,
		Confirmations:           result.Confirmations,
		PreviousEpochDifficulty: msg.PreviousEpochDifficulty,
		CurrentEpochDifficulty:  msg.CurrentEpochDifficulty,
		ProcessingTimeMs:        result.ProcessingTimeMs,
		CreatedAt:               at,
	}
	if result.Status == messaging.StatusVerified {
		height := result.BlockHeight
		v.BlockHeight = &height
		if result.BlockHash != "" {
			hash := result.BlockHash
			v.BlockHash = &hash
		}
	}
	if result.ErrorType != "" {
		errType := result.ErrorType
		v.ErrorType = &errType
	}
	if result.ErrorMessage != "" {
		errMsg := result.ErrorMessage
		v.ErrorMessage = &errMsg
	}
	return v
}

func errorType(err error) string {
	var se *errors.ServiceError
	if stderrors.As(err, &se) {
		return string(se.Type)
	}
	return string(errors.ErrorTypeInternal)
}
