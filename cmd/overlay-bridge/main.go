package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"golang.org/x/term"

	"github.com/b/webapp-overlay/pkg/config"
	"github.com/b/webapp-overlay/pkg/daemon"
	"github.com/b/webapp-overlay/pkg/tmux"
)

func main() {
	configPath := flag.String("config", "", "config file (default: <config dir>/config.yaml)")
	host := flag.String("host", "", "HTTP server host, loopback only (default: config bridge.host)")
	port := flag.Int("port", 0, "HTTP server port (default: config bridge.port)")
	sessionID := flag.String("session", "", "session ID (default: tmux session, else config)")
	tokenFile := flag.String("token-file", "", "token file path (default: <state dir>/bridge-token)")
	regenerateToken := flag.Bool("regenerate-token", false, "regenerate auth token on startup")
	authUser := flag.String("auth-user", "", "username required for the /connect page")
	authPass := flag.String("auth-pass", "", "password required for the /connect page")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		log.Fatalf("failed to load config %s: %v", path, err)
	}
	if *host == "" {
		*host = cfg.Bridge.Host
	}
	if *port == 0 {
		*port = cfg.Bridge.Port
	}
	if *sessionID == "" {
		*sessionID = tmux.SessionOr(cfg.Session)
	}

	tokenPath := *tokenFile
	if tokenPath == "" {
		tokenPath = defaultTokenPath()
	}
	token, err := loadToken(tokenPath, *regenerateToken)
	if err != nil {
		log.Fatalf("failed to load token: %v", err)
	}

	if (*authUser == "") != (*authPass == "") {
		log.Fatalf("auth-user and auth-pass must be set together")
	}

	server := NewServer(ServerConfig{
		Host:       *host,
		Port:       *port,
		SocketPath: daemon.SocketPath(*sessionID),
		Token:      token,
		AuthUser:   *authUser,
		AuthPass:   *authPass,
	})
	if *debug {
		server.SetLogger(log.New(os.Stderr, "[bridge] ", log.LstdFlags|log.Lmicroseconds))
	}

	if err := server.Start(); err != nil {
		log.Fatalf("server failed to start: %v", err)
	}

	wsURL := agentURL(net.JoinHostPort(*host, strconv.Itoa(*port)), token)
	fmt.Printf("overlay bridge for session %s: %s<tab id>\n", *sessionID, wsURL)
	if term.IsTerminal(int(os.Stdout.Fd())) {
		if qr, err := terminalQR(wsURL); err == nil {
			fmt.Print(qr)
		}
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	server.Stop()
}
