package bitcoin

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/wire"
	zmq "github.com/pebbe/zmq4"

	"github.com/bardlex/lifpow/pkg/log"
)

// ZMQ topics published by the node.
const (
	TopicHashBlock = "hashblock"
	TopicRawBlock  = "rawblock"
)

// pollInterval bounds how long Listen waits before rechecking ctx.
const pollInterval = 250 * time.Millisecond

// ZMQNotifier subscribes to node ZMQ notifications
type ZMQNotifier struct {
	socket   *zmq.Socket
	endpoint string
	logger   *log.Logger
}

// NewZMQNotifier creates a SUB socket for endpoint
func NewZMQNotifier(endpoint string, logger *log.Logger) (*ZMQNotifier, error) {
	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ socket: %w", err)
	}

	return &ZMQNotifier{
		socket:   socket,
		endpoint: endpoint,
		logger:   logger.WithComponent("zmq"),
	}, nil
}

// Subscribe subscribes to a specific topic
func (z *ZMQNotifier) Subscribe(topic string) error {
	if err := z.socket.SetSubscribe(topic); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}
	z.logger.Info("subscribed to ZMQ topic", "topic", topic)
	return nil
}

// Connect connects to the ZMQ endpoint
func (z *ZMQNotifier) Connect() error {
	if err := z.socket.Connect(z.endpoint); err != nil {
		return fmt.Errorf("failed to connect to ZMQ endpoint %s: %w", z.endpoint, err)
	}
	z.logger.Info("connected to ZMQ endpoint", "endpoint", z.endpoint)
	return nil
}

// Listen polls the socket and hands each message to handler until ctx is
// done. Handler errors are logged and do not stop the listener.
func (z *ZMQNotifier) Listen(ctx context.Context, handler func(topic string, data []byte) error) error {
	poller := zmq.NewPoller()
	poller.Add(z.socket, zmq.POLLIN)

	for {
		select {
		case <-ctx.Done():
			z.logger.Info("ZMQ listener stopping")
			return ctx.Err()
		default:
		}

		polled, err := poller.Poll(pollInterval)
		if err != nil {
			z.logger.Error("failed to poll ZMQ socket", "error", err)
			continue
		}
		if len(polled) == 0 {
			continue
		}

		msg, err := z.socket.RecvMessageBytes(0)
		if err != nil {
			z.logger.Error("failed to receive ZMQ message", "error", err)
			continue
		}
		if len(msg) < 2 {
			z.logger.Warn("received malformed ZMQ message", "parts", len(msg))
			continue
		}

		topic := string(msg[0])
		if err := handler(topic, msg[1]); err != nil {
			z.logger.Error("failed to handle ZMQ message", "topic", topic, "error", err)
		}
	}
}

// Close closes the ZMQ socket
func (z *ZMQNotifier) Close() error {
	if z.socket == nil {
		return nil
	}
	err := z.socket.Close()
	z.socket = nil
	return err
}

// TipWatcher turns block notifications into new-tip callbacks. It accepts
// both hashblock and rawblock so either node setting works.
type TipWatcher struct {
	logger *log.Logger
	onTip  func(blockHash string) error
	last   string
}

// NewTipWatcher creates a watcher calling onTip for each new tip.
func NewTipWatcher(logger *log.Logger, onTip func(blockHash string) error) *TipWatcher {
	return &TipWatcher{
		logger: logger.WithComponent("tip_watcher"),
		onTip:  onTip,
	}
}

// HandleMessage handles a ZMQ message. A tip seen twice, as happens when
// both topics are enabled, fires once.
func (w *TipWatcher) HandleMessage(topic string, data []byte) error {
	var hash string
	switch topic {
	case TopicHashBlock:
		if len(data) != 32 {
			return fmt.Errorf("invalid block hash length: %d", len(data))
		}
		// Published in display order.
		hash = hex.EncodeToString(data)

	case TopicRawBlock:
		var header wire.BlockHeader
		if err := header.Deserialize(bytes.NewReader(data)); err != nil {
			return fmt.Errorf("failed to decode raw block header: %w", err)
		}
		hash = header.BlockHash().String()

	default:
		w.logger.Debug("ignoring ZMQ topic", "topic", topic)
		return nil
	}

	if hash == w.last {
		return nil
	}
	w.last = hash
	w.logger.Info("new tip", "hash", hash)

	if w.onTip != nil {
		return w.onTip(hash)
	}
	return nil
}
