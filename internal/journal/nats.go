// Package journal implements router.Journal on NATS JetStream, adapted
// from the teacher's pkg/nats/client.go connection-handling pattern.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/lumencanvas/clasp/internal/address"
	"github.com/lumencanvas/clasp/internal/clasptype"
	"github.com/lumencanvas/clasp/internal/router"
)

// Config tunes the JetStream connection and stream backing the journal.
type Config struct {
	URL             string
	StreamName      string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectJitter time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:             nats.DefaultURL,
		StreamName:      "CLASP_JOURNAL",
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		ReconnectJitter: 500 * time.Millisecond,
	}
}

const journalSubject = "clasp.journal.record"

// Journal appends every SET/PUBLISH to a JetStream stream and serves
// REPLAY queries back out of it, spec.md §6.
type Journal struct {
	cfg    Config
	logger *zap.Logger

	conn *nats.Conn
	js   nats.JetStreamContext
}

// New connects to NATS, ensures the backing stream exists, and returns a
// Journal ready to Append/Query.
func New(cfg Config, logger *zap.Logger) (*Journal, error) {
	j := &Journal{cfg: cfg, logger: logger}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(cfg.ReconnectJitter, cfg.ReconnectJitter),
		nats.ConnectHandler(j.connectHandler),
		nats.DisconnectErrHandler(j.disconnectHandler),
		nats.ReconnectHandler(j.reconnectHandler),
		nats.ErrorHandler(j.errorHandler),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("journal: connect to NATS: %w", err)
	}
	j.conn = conn

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("journal: open JetStream context: %w", err)
	}
	j.js = js

	if _, err := js.StreamInfo(cfg.StreamName); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     cfg.StreamName,
			Subjects: []string{journalSubject},
			Storage:  nats.FileStorage,
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("journal: create stream %s: %w", cfg.StreamName, err)
		}
	}

	return j, nil
}

func (j *Journal) connectHandler(c *nats.Conn) {
	j.logger.Info("journal connected to NATS", zap.String("url", c.ConnectedUrl()))
}

func (j *Journal) disconnectHandler(c *nats.Conn, err error) {
	if err != nil {
		j.logger.Warn("journal disconnected from NATS", zap.Error(err))
		return
	}
	j.logger.Warn("journal disconnected from NATS")
}

func (j *Journal) reconnectHandler(c *nats.Conn) {
	j.logger.Info("journal reconnected to NATS", zap.String("url", c.ConnectedUrl()))
}

func (j *Journal) errorHandler(c *nats.Conn, sub *nats.Subscription, err error) {
	j.logger.Error("journal NATS error", zap.Error(err))
}

// wireRecord is the msgpack-friendly projection of router.JournalRecord,
// mirroring codec.value_wire's wireValue projection of clasptype.Value.
type wireRecord struct {
	Seq        uint64               `msgpack:"seq"`
	Timestamp  int64                `msgpack:"ts"`
	Author     string               `msgpack:"author"`
	Address    string               `msgpack:"addr"`
	SignalType byte                 `msgpack:"sig"`
	Value      wireValue            `msgpack:"val"`
	Revision   *uint64              `msgpack:"rev,omitempty"`
	MsgType    string               `msgpack:"mtype"`
}

type wireValue struct {
	Kind  byte                 `msgpack:"k"`
	Bool  bool                 `msgpack:"b,omitempty"`
	Int   int64                `msgpack:"i,omitempty"`
	Float float64              `msgpack:"f,omitempty"`
	Str   string               `msgpack:"s,omitempty"`
	Bytes []byte               `msgpack:"y,omitempty"`
	List  []wireValue          `msgpack:"l,omitempty"`
	Map   map[string]wireValue `msgpack:"m,omitempty"`
}

func toWireValue(v clasptype.Value) wireValue {
	w := wireValue{Kind: byte(v.Kind), Bool: v.Bool, Int: v.Int, Float: v.Float, Str: v.Str, Bytes: v.Bytes}
	if v.List != nil {
		w.List = make([]wireValue, len(v.List))
		for i, e := range v.List {
			w.List[i] = toWireValue(e)
		}
	}
	if v.Map != nil {
		w.Map = make(map[string]wireValue, len(v.Map))
		for k, e := range v.Map {
			w.Map[k] = toWireValue(e)
		}
	}
	return w
}

func fromWireValue(w wireValue) clasptype.Value {
	v := clasptype.Value{Kind: clasptype.Kind(w.Kind), Bool: w.Bool, Int: w.Int, Float: w.Float, Str: w.Str, Bytes: w.Bytes}
	if w.List != nil {
		v.List = make([]clasptype.Value, len(w.List))
		for i, e := range w.List {
			v.List[i] = fromWireValue(e)
		}
	}
	if w.Map != nil {
		v.Map = make(map[string]clasptype.Value, len(w.Map))
		for k, e := range w.Map {
			v.Map[k] = fromWireValue(e)
		}
	}
	return v
}

// Append publishes rec onto the journal stream. Spec.md §6 treats the
// journal as write-behind: failures here are logged, not surfaced to the
// writing client (the SET/PUBLISH already succeeded against state).
func (j *Journal) Append(ctx context.Context, rec router.JournalRecord) error {
	w := wireRecord{
		Seq: rec.Seq, Timestamp: rec.Timestamp, Author: rec.Author, Address: rec.Address,
		SignalType: byte(rec.SignalType), Value: toWireValue(rec.Value), Revision: rec.Revision, MsgType: rec.MsgType,
	}
	data, err := msgpack.Marshal(w)
	if err != nil {
		return fmt.Errorf("journal: marshal record: %w", err)
	}
	_, err = j.js.Publish(journalSubject, data, nats.Context(ctx))
	if err != nil {
		j.logger.Error("journal append failed", zap.String("address", rec.Address), zap.Error(err))
		return fmt.Errorf("journal: publish: %w", err)
	}
	return nil
}

// Query replays every journal entry whose address matches pattern and
// whose timestamp is at or after since (nil means from the start of the
// stream), spec.md §6 REPLAY semantics.
func (j *Journal) Query(ctx context.Context, pattern string, since *int64) ([]router.JournalRecord, error) {
	opts := []nats.SubOpt{nats.DeliverAll(), nats.AckNone()}
	if since != nil {
		opts = []nats.SubOpt{nats.StartTime(time.UnixMicro(*since)), nats.AckNone()}
	}

	sub, err := j.js.PullSubscribe(journalSubject, "", opts...)
	if err != nil {
		return nil, fmt.Errorf("journal: pull subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	var out []router.JournalRecord
	for {
		msgs, err := sub.Fetch(256, nats.MaxWait(500*time.Millisecond))
		if err != nil {
			if err == nats.ErrTimeout || err == context.DeadlineExceeded {
				break
			}
			return out, fmt.Errorf("journal: fetch: %w", err)
		}
		if len(msgs) == 0 {
			break
		}
		for _, m := range msgs {
			var w wireRecord
			if err := msgpack.Unmarshal(m.Data, &w); err != nil {
				j.logger.Warn("journal: skipping unparseable record", zap.Error(err))
				continue
			}
			if !address.Match(pattern, w.Address) {
				continue
			}
			out = append(out, router.JournalRecord{
				Seq: w.Seq, Timestamp: w.Timestamp, Author: w.Author, Address: w.Address,
				SignalType: clasptype.SignalType(w.SignalType), Value: fromWireValue(w.Value),
				Revision: w.Revision, MsgType: w.MsgType,
			})
		}
		if len(msgs) < 256 {
			break
		}
	}
	return out, nil
}

// Close closes the NATS connection without draining it; records still in
// flight may be lost.
func (j *Journal) Close() error {
	if j.conn != nil {
		j.conn.Close()
	}
	return nil
}
