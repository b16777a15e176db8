package events

import (
	"bytes"
	"context"
	"encoding/gob"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
)

// Publisher relays bus events onto gossipsub topics for off-process
// listeners (the settlement venue, auditors). Delivery is best effort;
// publish failures are logged and never propagate back to the core.
type Publisher struct {
	h   host.Host
	ps  *pubsub.PubSub
	log *zap.SugaredLogger

	tCreated   *pubsub.Topic
	tRecovered *pubsub.Topic
}

type PublisherConfig struct {
	ListenAddr string
	Bootstrap  []string
	Logger     *zap.SugaredLogger
}

func NewPublisher(ctx context.Context, cfg PublisherConfig) (*Publisher, error) {
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, err
	}

	p := &Publisher{h: h, ps: ps, log: cfg.Logger}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil && cfg.Logger != nil {
			cfg.Logger.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	if p.tCreated, err = ps.Join(TopicOrderCreated); err != nil {
		return nil, err
	}
	if p.tRecovered, err = ps.Join(TopicFundsRecovered); err != nil {
		return nil, err
	}

	if cfg.Logger != nil {
		cfg.Logger.Infow("pubsub_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr)
	}
	return p, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

// Run drains the subscription until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context, sub <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			p.publish(ctx, ev)
		}
	}
}

func (p *Publisher) publish(ctx context.Context, ev Event) {
	data, err := gobEncode(ev)
	if err != nil {
		if p.log != nil {
			p.log.Warnw("event_encode_failed", "topic", ev.Topic(), "err", err)
		}
		return
	}
	var topic *pubsub.Topic
	switch ev.Topic() {
	case TopicOrderCreated:
		topic = p.tCreated
	case TopicFundsRecovered:
		topic = p.tRecovered
	default:
		return
	}
	if err := topic.Publish(ctx, data); err != nil && p.log != nil {
		p.log.Warnw("event_publish_failed", "topic", ev.Topic(), "err", err)
	}
}

func (p *Publisher) Close() error {
	return p.h.Close()
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
