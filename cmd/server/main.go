package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dalbodeule/sock-dtls/internal/config"
	"github.com/dalbodeule/sock-dtls/internal/credman"
	"github.com/dalbodeule/sock-dtls/internal/logging"
	"github.com/dalbodeule/sock-dtls/internal/observability"
	"github.com/dalbodeule/sock-dtls/internal/sockdtls"
	"github.com/dalbodeule/sock-dtls/internal/udp"
)

// recvPoll 은 종료 신호를 확인하는 Recv 대기 간격입니다.
const recvPoll = time.Second

func newLogger(cfg config.LoggingConfig, debug bool) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if debug {
		level = logging.DebugLevel
	}
	logger := logging.NewStdJSONLoggerWithLevel("server", level, os.Stdout)
	if len(cfg.StaticFields) > 0 {
		fields := logging.Fields{}
		for k, v := range cfg.StaticFields {
			fields[k] = v
		}
		logger = logger.With(fields)
	}
	return logger, nil
}

func main() {
	bootLogger := logging.NewStdJSONLogger("server")

	// 1. 환경변수(.env 포함)에서 서버 설정 로드
	cfg, err := config.LoadServerConfigFromEnv()
	if err != nil {
		bootLogger.Error("failed to load server config from env", logging.Fields{
			"error": err.Error(),
		})
		os.Exit(1)
	}

	// 2. CLI 인자가 env 보다 우선합니다.
	listenFlag := flag.String("listen", "", "UDP listen address (e.g. [::]:20220)")
	metricsFlag := flag.String("metrics-listen", "", "prometheus metrics listen address (e.g. :9100)")
	flag.Parse()
	if *listenFlag != "" {
		cfg.Listen = *listenFlag
	}
	if *metricsFlag != "" {
		cfg.MetricsListen = *metricsFlag
	}

	logger, err := newLogger(cfg.Logging, cfg.Debug)
	if err != nil {
		bootLogger.Error("invalid log level", logging.Fields{
			"level": cfg.Logging.Level,
			"error": err.Error(),
		})
		os.Exit(1)
	}

	logger.Info("sock-dtls echo server starting", logging.Fields{
		"listen":         cfg.Listen,
		"metrics_listen": cfg.MetricsListen,
		"debug":          cfg.Debug,
		"tag":            cfg.DTLS.Tag,
		"max_sessions":   cfg.DTLS.MaxSessions,
		"handshake_rate": cfg.DTLS.HandshakeRate,
	})

	// 3. credential 등록
	sockdtls.Init()
	n, err := cfg.DTLS.LoadCredentials(credman.Default())
	if err != nil {
		logger.Error("failed to load dtls credentials", logging.Fields{
			"error": err.Error(),
		})
		os.Exit(1)
	}
	if n == 0 {
		if !cfg.Debug {
			logger.Error("no dtls credentials configured; set SOCK_DTLS_PSK or SOCK_DTLS_CREDENTIALS_FILE", nil)
			os.Exit(1)
		}
		// 디버그 모드에서는 임시 ECDSA 키로 pin 없이 동작합니다.
		priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err == nil {
			err = credman.Add(credman.Credential{
				Tag:    credman.Tag(cfg.DTLS.Tag),
				Params: &credman.ECDSA{PrivateKey: priv},
			})
		}
		if err != nil {
			logger.Error("failed to create ephemeral ecdsa credential", logging.Fields{
				"error": err.Error(),
			})
			os.Exit(1)
		}
		logger.Warn("using ephemeral ecdsa credential without peer pinning (debug mode)", logging.Fields{
			"tag": cfg.DTLS.Tag,
		})
		n = 1
	}
	logger.Info("dtls credentials loaded", logging.Fields{
		"count": n,
		"tag":   cfg.DTLS.Tag,
	})

	// 4. 메트릭 서버 (선택)
	observability.MustRegister()
	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{
			Addr:              cfg.MetricsListen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", logging.Fields{
					"error": err.Error(),
				})
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	// 5. UDP 바인딩 후 DTLS 소켓 생성
	local, err := udp.ParseEndpoint(cfg.Listen)
	if err != nil {
		logger.Error("invalid listen address", logging.Fields{
			"listen": cfg.Listen,
			"error":  err.Error(),
		})
		os.Exit(1)
	}
	conn, err := udp.Listen(local)
	if err != nil {
		logger.Error("failed to bind udp endpoint", logging.Fields{
			"listen": cfg.Listen,
			"error":  err.Error(),
		})
		os.Exit(1)
	}
	defer conn.Close()

	sock, err := sockdtls.CreateWithConfig(conn, credman.Tag(cfg.DTLS.Tag), sockdtls.MethodDTLSv12, cfg.DTLS.SocketConfig(logger, cfg.Logging))
	if err != nil {
		logger.Error("failed to create dtls socket", logging.Fields{
			"error": err.Error(),
			"errno": sockdtls.Errno(err),
		})
		os.Exit(1)
	}
	defer sock.Destroy()
	sock.InitServer()

	bound, _ := conn.LocalEndpoint()
	logger.Info("dtls server listening", logging.Fields{
		"local":   bound.String(),
		"sock_id": sock.ID(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 6. echo 루프
	buf := make([]byte, 64*1024)
	for ctx.Err() == nil {
		sess, n, err := sock.Recv(buf, recvPoll)
		switch {
		case err == nil:
			logger.Debug("echo datagram", logging.Fields{
				"remote": sess.Remote.String(),
				"bytes":  n,
			})
			if _, err := sock.Send(sess, buf[:n]); err != nil {
				logger.Warn("echo send failed", logging.Fields{
					"remote": sess.Remote.String(),
					"error":  err.Error(),
					"errno":  sockdtls.Errno(err),
				})
			}
		case errors.Is(err, sockdtls.ErrTimedOut):
		case errors.Is(err, sockdtls.ErrPeerClosed):
			logger.Info("session closed by peer", logging.Fields{
				"remote": sess.Remote.String(),
			})
		case errors.Is(err, sockdtls.ErrBufferTooSmall):
			logger.Warn("dropped oversized datagram", logging.Fields{
				"remote": sess.Remote.String(),
				"error":  err.Error(),
			})
		default:
			logger.Error("dtls recv failed", logging.Fields{
				"error": err.Error(),
				"errno": sockdtls.Errno(err),
			})
			time.Sleep(100 * time.Millisecond)
		}
	}

	logger.Info("sock-dtls echo server shutting down", logging.Fields{
		"sessions": len(sock.Sessions()),
		"udp_send": conn.SendStats(),
		"udp_recv": conn.RecvStats(),
	})
}
