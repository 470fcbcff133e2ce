package p2p

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"go.uber.org/zap"
)

// ContentProtocol serves blobs by reference
const ContentProtocol = "/file-registry/1.0.0/content"

const (
	statusOK       byte = 0
	statusNotFound byte = 1

	streamTimeout = 30 * time.Second
	maxProviders  = 8
)

var ErrNoProviders = errors.New("no peer could serve the content")

// Node represents a libp2p node that announces and serves content
type Node struct {
	host   host.Host
	dht    *dht.IpfsDHT
	config NodeConfig
	logger *zap.Logger
}

// NodeConfig holds P2P node configuration
type NodeConfig struct {
	ListenAddresses []string
	BootstrapPeers  []string
	// MaxContentBytes bounds a single fetched blob. Zero means unbounded.
	MaxContentBytes int64
}

// NewNode creates a new libp2p node
func NewNode(config NodeConfig, logger *zap.Logger) *Node {
	if len(config.ListenAddresses) == 0 {
		config.ListenAddresses = []string{
			"/ip4/0.0.0.0/tcp/0",
			"/ip4/0.0.0.0/udp/0/quic-v1",
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Node{
		config: config,
		logger: logger.With(zap.String("component", "p2p")),
	}
}

// Start starts the host and DHT and dials the bootstrap peers
func (n *Node) Start(ctx context.Context) error {
	h, err := libp2p.New(libp2p.ListenAddrStrings(n.config.ListenAddresses...))
	if err != nil {
		return fmt.Errorf("failed to create libp2p host: %w", err)
	}
	n.host = h

	kadDHT, err := dht.New(ctx, h)
	if err != nil {
		h.Close()
		return fmt.Errorf("failed to create DHT: %w", err)
	}
	n.dht = kadDHT

	for _, addr := range n.config.BootstrapPeers {
		if err := n.Connect(ctx, addr); err != nil {
			n.logger.Warn("failed to connect to bootstrap peer", zap.String("addr", addr), zap.Error(err))
		}
	}

	if err := kadDHT.Bootstrap(ctx); err != nil {
		return fmt.Errorf("failed to bootstrap DHT: %w", err)
	}

	n.logger.Info("p2p node started",
		zap.String("peer_id", n.ID().String()),
		zap.Strings("addrs", n.Addrs()))
	return nil
}

// Close stops the DHT and host
func (n *Node) Close() error {
	if n.dht != nil {
		if err := n.dht.Close(); err != nil {
			return err
		}
	}
	if n.host != nil {
		return n.host.Close()
	}
	return nil
}

// ID returns the peer ID
func (n *Node) ID() peer.ID {
	if n.host == nil {
		return ""
	}
	return n.host.ID()
}

// Addrs returns the full multiaddrs the node is reachable on
func (n *Node) Addrs() []string {
	if n.host == nil {
		return nil
	}

	var addrs []string
	for _, addr := range n.host.Addrs() {
		addrs = append(addrs, fmt.Sprintf("%s/p2p/%s", addr.String(), n.ID().String()))
	}
	return addrs
}

// Connect connects to a peer
func (n *Node) Connect(ctx context.Context, peerAddr string) error {
	addrInfo, err := peer.AddrInfoFromString(peerAddr)
	if err != nil {
		return fmt.Errorf("failed to parse peer address: %w", err)
	}

	if err := n.host.Connect(ctx, *addrInfo); err != nil {
		return fmt.Errorf("failed to connect to peer: %w", err)
	}

	return nil
}

// Provide announces that this node holds ref
func (n *Node) Provide(ctx context.Context, ref string) error {
	c, err := cid.Decode(ref)
	if err != nil {
		return fmt.Errorf("invalid content reference: %w", err)
	}
	if err := n.dht.Provide(ctx, c, true); err != nil {
		return fmt.Errorf("failed to provide %s: %w", ref, err)
	}
	return nil
}

// Fetch asks providers of ref found through the DHT until one serves it
func (n *Node) Fetch(ctx context.Context, ref string) ([]byte, error) {
	c, err := cid.Decode(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid content reference: %w", err)
	}

	for info := range n.dht.FindProvidersAsync(ctx, c, maxProviders) {
		if info.ID == n.ID() {
			continue
		}
		n.host.Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.TempAddrTTL)

		data, err := n.FetchFrom(ctx, info.ID, ref)
		if err != nil {
			n.logger.Debug("provider failed", zap.String("peer_id", info.ID.String()), zap.Error(err))
			continue
		}
		return data, nil
	}
	return nil, ErrNoProviders
}

// FetchFrom requests ref from a single peer
func (n *Node) FetchFrom(ctx context.Context, pid peer.ID, ref string) ([]byte, error) {
	stream, err := n.host.NewStream(ctx, pid, ContentProtocol)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	defer stream.Close()
	stream.SetDeadline(time.Now().Add(streamTimeout))

	if _, err := io.WriteString(stream, ref+"\n"); err != nil {
		return nil, fmt.Errorf("failed to write request: %w", err)
	}
	if err := stream.CloseWrite(); err != nil {
		return nil, fmt.Errorf("failed to write request: %w", err)
	}

	reader := bufio.NewReader(stream)
	status, err := reader.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if status != statusOK {
		return nil, fmt.Errorf("peer %s does not have %s", pid, ref)
	}

	var body io.Reader = reader
	if n.config.MaxContentBytes > 0 {
		body = io.LimitReader(reader, n.config.MaxContentBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}
	if n.config.MaxContentBytes > 0 && int64(len(data)) > n.config.MaxContentBytes {
		return nil, fmt.Errorf("peer %s sent more than %d bytes", pid, n.config.MaxContentBytes)
	}
	return data, nil
}

// SetContentHandler serves ContentProtocol requests from get
func (n *Node) SetContentHandler(get func(ctx context.Context, ref string) ([]byte, error)) {
	n.host.SetStreamHandler(ContentProtocol, func(s network.Stream) {
		defer s.Close()
		s.SetDeadline(time.Now().Add(streamTimeout))

		line, err := bufio.NewReader(io.LimitReader(s, 256)).ReadString('\n')
		if err != nil {
			s.Reset()
			return
		}
		ref := strings.TrimSpace(line)

		ctx, cancel := context.WithTimeout(context.Background(), streamTimeout)
		defer cancel()

		data, err := get(ctx, ref)
		if err != nil {
			s.Write([]byte{statusNotFound})
			return
		}
		if _, err := s.Write(append([]byte{statusOK}, data...)); err != nil {
			n.logger.Debug("failed to serve content", zap.String("ref", ref), zap.Error(err))
		}
	})
}
