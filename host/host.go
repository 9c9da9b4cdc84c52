// Package host runs the HTTP server and exposes the Handle through which
// plug-ins register resources, read the clock, subscribe to diagnostics,
// and share configuration items.
package host

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"net"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"

	"github.com/rhymu8354/webserver/diagnostics"
	"github.com/rhymu8354/webserver/errors"
	"github.com/rhymu8354/webserver/router"
	"github.com/rhymu8354/webserver/timekeeper"
)

// Handle is the capability surface the server hands to plug-ins. All
// methods are safe to call from any goroutine.
type Handle interface {
	// RegisterResource installs h as the owner of the subspace rooted at
	// segments. The returned function revokes the registration; once it
	// returns, no further invocation of h can begin.
	RegisterResource(segments []string, h router.Handler) (unregister func())

	// TimeKeeper returns the server's clock.
	TimeKeeper() timekeeper.TimeKeeper

	// SubscribeToDiagnostics attaches sink to the server's diagnostic bus.
	SubscribeToDiagnostics(sink diagnostics.SinkFunc, minLevel int) (unsubscribe func())

	// Ban list accessors. The list is stored and reported; enforcement is
	// delegated to registered ban delegates.
	Ban(peerAddress string)
	Unban(peerAddress string)
	Bans() []string
	WhitelistAdd(peerAddress string)
	WhitelistRemove(peerAddress string)
	Whitelist() []string
	RegisterBanDelegate(delegate func(peerAddress string)) (unregister func())

	// ConfigurationItem and SetConfigurationItem read and write the
	// process-wide string-keyed configuration table.
	ConfigurationItem(key string) (string, bool)
	SetConfigurationItem(key, value string)
}

// Options configures a Server.
type Options struct {
	TimeKeeper      timekeeper.TimeKeeper
	Secure          bool
	CertificateFile string
	KeyFile         string
	KeyPassphrase   string
}

// Server is the production Handle implementation.
type Server struct {
	opts   Options
	router *router.Router
	diag   *diagnostics.Sender
	clock  timekeeper.TimeKeeper

	mu             sync.Mutex
	config         map[string]string
	bans           map[string]struct{}
	whitelist      map[string]struct{}
	nextDelegateID int
	banDelegates   map[int]func(string)

	listener net.Listener
	httpSrv  *http.Server
}

var _ Handle = (*Server)(nil)

// New returns an unstarted Server.
func New(opts Options) *Server {
	clock := opts.TimeKeeper
	if clock == nil {
		clock = timekeeper.NewMonotonic()
	}
	return &Server{
		opts:         opts,
		router:       router.New(),
		diag:         diagnostics.NewSender("WebServer"),
		clock:        clock,
		config:       make(map[string]string),
		bans:         make(map[string]struct{}),
		whitelist:    make(map[string]struct{}),
		banDelegates: make(map[int]func(string)),
	}
}

// RegisterResource implements Handle.
func (s *Server) RegisterResource(segments []string, h router.Handler) func() {
	return s.router.Register(segments, h)
}

// TimeKeeper implements Handle.
func (s *Server) TimeKeeper() timekeeper.TimeKeeper {
	return s.clock
}

// SubscribeToDiagnostics implements Handle.
func (s *Server) SubscribeToDiagnostics(sink diagnostics.SinkFunc, minLevel int) func() {
	return s.diag.Subscribe(sink, minLevel)
}

// DiagnosticSink returns a sink that publishes into the server's bus under
// the original sender's name. The plug-in loader re-tags it per plug-in.
func (s *Server) DiagnosticSink() diagnostics.SinkFunc {
	return s.diag.Sink()
}

// Ban implements Handle.
func (s *Server) Ban(peerAddress string) {
	s.mu.Lock()
	s.bans[peerAddress] = struct{}{}
	delegates := make([]func(string), 0, len(s.banDelegates))
	for _, d := range s.banDelegates {
		delegates = append(delegates, d)
	}
	s.mu.Unlock()
	for _, d := range delegates {
		d(peerAddress)
	}
}

// Unban implements Handle.
func (s *Server) Unban(peerAddress string) {
	s.mu.Lock()
	delete(s.bans, peerAddress)
	s.mu.Unlock()
}

// Bans implements Handle.
func (s *Server) Bans() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.bans)
}

// WhitelistAdd implements Handle.
func (s *Server) WhitelistAdd(peerAddress string) {
	s.mu.Lock()
	s.whitelist[peerAddress] = struct{}{}
	s.mu.Unlock()
}

// WhitelistRemove implements Handle.
func (s *Server) WhitelistRemove(peerAddress string) {
	s.mu.Lock()
	delete(s.whitelist, peerAddress)
	s.mu.Unlock()
}

// Whitelist implements Handle.
func (s *Server) Whitelist() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.whitelist)
}

// RegisterBanDelegate implements Handle.
func (s *Server) RegisterBanDelegate(delegate func(string)) func() {
	s.mu.Lock()
	id := s.nextDelegateID
	s.nextDelegateID++
	s.banDelegates[id] = delegate
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.banDelegates, id)
		s.mu.Unlock()
	}
}

// ConfigurationItem implements Handle.
func (s *Server) ConfigurationItem(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.config[key]
	return v, ok
}

// SetConfigurationItem implements Handle.
func (s *Server) SetConfigurationItem(key, value string) {
	s.mu.Lock()
	s.config[key] = value
	s.mu.Unlock()
}

// Start binds the listening socket and begins serving. The port comes from
// the "Port" configuration item; it defaults to 8080. Start returns once
// the socket is bound; serving continues on a background goroutine.
func (s *Server) Start() error {
	port := 8080
	if v, ok := s.ConfigurationItem("Port"); ok {
		p, err := strconv.Atoi(v)
		if err != nil || p < 0 || p > 65535 {
			return errors.Newf("invalid Port configuration item: %q", v)
		}
		port = p
	}
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return errors.Wrap(err, "binding listen socket")
	}
	if s.opts.Secure {
		tlsConfig, err := s.tlsConfig()
		if err != nil {
			listener.Close()
			return err
		}
		listener = tls.NewListener(listener, tlsConfig)
	}
	s.listener = listener
	s.httpSrv = &http.Server{Handler: s.router}
	go s.httpSrv.Serve(listener)
	s.diag.Publishf(diagnostics.LevelImportant,
		"now serving on port %d", listener.Addr().(*net.TCPAddr).Port)
	return nil
}

func (s *Server) tlsConfig() (*tls.Config, error) {
	certPEM, err := os.ReadFile(s.opts.CertificateFile)
	if err != nil {
		return nil, errors.Wrap(err, "reading TLS certificate")
	}
	keyPEM, err := os.ReadFile(s.opts.KeyFile)
	if err != nil {
		return nil, errors.Wrap(err, "reading TLS key")
	}
	if s.opts.KeyPassphrase != "" {
		keyPEM, err = decryptKeyPEM(keyPEM, s.opts.KeyPassphrase)
		if err != nil {
			return nil, err
		}
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, errors.Wrap(err, "parsing TLS key pair")
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

// decryptKeyPEM decrypts a passphrase-protected key file. Such keys carry
// legacy RFC 1423 PEM encryption, which only the deprecated x509 helpers
// can read.
func decryptKeyPEM(keyPEM []byte, passphrase string) ([]byte, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, errors.New("no PEM block in TLS key")
	}
	if !x509.IsEncryptedPEMBlock(block) {
		return keyPEM, nil
	}
	der, err := x509.DecryptPEMBlock(block, []byte(passphrase))
	if err != nil {
		return nil, errors.Wrap(err, "decrypting TLS key")
	}
	return pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der}), nil
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Port returns the bound listen port, or zero before Start.
func (s *Server) Port() int {
	addr, ok := s.Addr().(*net.TCPAddr)
	if !ok {
		return 0
	}
	return addr.Port
}

// Stop closes the listener and any active connections.
func (s *Server) Stop() {
	if s.httpSrv != nil {
		s.httpSrv.Close()
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
