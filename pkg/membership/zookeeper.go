package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"replog/pkg/replication"
	"replog/pkg/types"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-zookeeper/zk"
)

const (
	secondariesNode = "secondaries"
	connectTimeout  = 10 * time.Second
)

// zkConn is the part of *zk.Conn used here.
type zkConn interface {
	Exists(path string) (bool, *zk.Stat, error)
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	Get(path string) ([]byte, *zk.Stat, error)
	ChildrenW(path string) ([]string, *zk.Stat, <-chan zk.Event, error)
	State() zk.State
	Close()
}

// Registrar receives discovered secondaries. *replication.Coordinator
// implements it.
type Registrar interface {
	RegisterSecondary(endpoint string) error
}

// ZKMembership publishes secondaries as ephemeral znodes under
// <root>/secondaries and lets the master follow them.
type ZKMembership struct {
	conn   zkConn
	root   string
	logger *slog.Logger
}

// NewZKMembership connects to servers: ["zk1:2181", "zk2:2181"].
func NewZKMembership(servers []string, root string, sessionTimeout time.Duration, logger *slog.Logger) (*ZKMembership, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, fmt.Errorf("zk connect: %w", err)
	}
	return newZKMembership(conn, root, logger), nil
}

func newZKMembership(conn zkConn, root string, logger *slog.Logger) *ZKMembership {
	if logger == nil {
		logger = slog.Default()
	}
	return &ZKMembership{
		conn:   conn,
		root:   "/" + strings.Trim(root, "/"),
		logger: logger.With("component", "membership"),
	}
}

func (m *ZKMembership) Close() error {
	m.conn.Close()
	return nil
}

func (m *ZKMembership) dir() string {
	return m.root + "/" + secondariesNode
}

func (m *ZKMembership) ensurePath(path string) error {
	cur := ""
	for _, p := range strings.Split(path, "/") {
		if p == "" {
			continue
		}
		cur = cur + "/" + p
		exists, _, err := m.conn.Exists(cur)
		if err != nil {
			return err
		}
		if !exists {
			_, err = m.conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll))
			if err != nil && !errors.Is(err, zk.ErrNodeExists) {
				return err
			}
		}
	}
	return nil
}

// Announce создаёт ephemeral-узел секундари; данные узла - её URL.
// Узел исчезает вместе с сессией.
func (m *ZKMembership) Announce(ctx context.Context, id types.NodeID, endpoint string) error {
	if err := m.waitConnected(ctx, connectTimeout); err != nil {
		return err
	}
	if err := m.ensurePath(m.dir()); err != nil {
		return fmt.Errorf("ensure %s: %w", m.dir(), err)
	}

	nodePath := m.dir() + "/" + url.PathEscape(string(id))
	_, err := m.conn.Create(nodePath, []byte(endpoint), zk.FlagEphemeral, zk.WorldACL(zk.PermAll))
	if err != nil && !errors.Is(err, zk.ErrNodeExists) {
		return fmt.Errorf("create ephemeral node: %w", err)
	}

	m.logger.Info("announced secondary", "path", nodePath, "endpoint", endpoint)
	return nil
}

// Watch регистрирует в r каждую секундари, появившуюся в ZooKeeper,
// пока ctx не отменён. Исчезнувшие узлы не снимаются с регистрации:
// мастер продолжает доставку до их возвращения.
func (m *ZKMembership) Watch(ctx context.Context, r Registrar) error {
	if err := m.waitConnected(ctx, connectTimeout); err != nil {
		return err
	}
	if err := m.ensurePath(m.dir()); err != nil {
		return fmt.Errorf("ensure %s: %w", m.dir(), err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	b.MaxInterval = 5 * time.Second

	for {
		// читаем список и подписываемся
		children, _, ch, err := m.conn.ChildrenW(m.dir())
		if err != nil {
			wait := b.NextBackOff()
			m.logger.Warn("ChildrenW failed", "error", err, "retry_in", wait)
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		b.Reset()

		m.register(children, r)

		select {
		case ev := <-ch:
			m.logger.Debug("zk event", "type", ev.Type.String(), "path", ev.Path)
		case <-ctx.Done():
			m.logger.Info("watch stopped")
			return nil
		}
	}
}

func (m *ZKMembership) register(children []string, r Registrar) {
	for _, child := range children {
		data, _, err := m.conn.Get(m.dir() + "/" + child)
		if err != nil {
			// the node may have expired between ChildrenW and Get
			if !errors.Is(err, zk.ErrNoNode) {
				m.logger.Warn("read secondary node", "node", child, "error", err)
			}
			continue
		}
		endpoint := strings.TrimRight(strings.TrimSpace(string(data)), "/")
		if endpoint == "" {
			continue
		}

		err = r.RegisterSecondary(endpoint)
		switch {
		case err == nil:
			m.logger.Info("discovered secondary", "node", child, "endpoint", endpoint)
		case errors.Is(err, replication.ErrDuplicateSecondary):
		default:
			m.logger.Warn("register discovered secondary", "endpoint", endpoint, "error", err)
		}
	}
}

func (m *ZKMembership) waitConnected(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		st := m.conn.State()
		if st == zk.StateConnected || st == zk.StateHasSession {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("zk: not connected after %s, state=%v", timeout, st)
		}
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
