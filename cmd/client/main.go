package main

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"flag"
	"os"
	"strings"
	"time"

	"github.com/dalbodeule/sock-dtls/internal/config"
	"github.com/dalbodeule/sock-dtls/internal/credman"
	"github.com/dalbodeule/sock-dtls/internal/logging"
	"github.com/dalbodeule/sock-dtls/internal/sockdtls"
	"github.com/dalbodeule/sock-dtls/internal/udp"
)

// maskPSK 는 로그에 노출할 때 PSK 를 일부만 보여주기 위한 헬퍼입니다.
func maskPSK(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "***"
	}
	return key[:2] + "..." + key[len(key)-2:]
}

// firstNonEmpty 는 앞에서부터 처음으로 non-empty 인 문자열을 반환합니다.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func splitMessages(raw string) []string {
	var out []string
	for _, m := range strings.Split(raw, ",") {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}

func main() {
	logger := logging.NewStdJSONLogger("client")

	// 1. 환경변수(.env 포함)에서 클라이언트 설정 로드
	envCfg, err := config.LoadClientConfigFromEnv()
	if err != nil {
		logger.Error("failed to load client config from env", logging.Fields{
			"error": err.Error(),
		})
		os.Exit(1)
	}

	// CLI 인자 정의 (env 보다 우선 적용됨)
	localFlag := flag.String("local", "", "local UDP address to bind (e.g. [::]:0)")
	remoteFlag := flag.String("remote", "", "DTLS server address (e.g. [::1]:20220)")
	messagesFlag := flag.String("messages", "", "comma separated messages to echo")
	pskFlag := flag.String("psk", "", "pre-shared key")
	pskIDFlag := flag.String("psk-id", "", "PSK identity sent to the server")
	timeoutFlag := flag.Duration("timeout", 0, "handshake timeout (e.g. 10s)")

	flag.Parse()

	// 2. CLI 인자 우선, env 후순위로 최종 설정 구성
	finalCfg := *envCfg
	finalCfg.Local = firstNonEmpty(strings.TrimSpace(*localFlag), envCfg.Local)
	finalCfg.Remote = firstNonEmpty(strings.TrimSpace(*remoteFlag), envCfg.Remote)
	if msgs := splitMessages(*messagesFlag); len(msgs) > 0 {
		finalCfg.Messages = msgs
	}
	finalCfg.DTLS.PSK = firstNonEmpty(*pskFlag, envCfg.DTLS.PSK)
	finalCfg.DTLS.PSKID = firstNonEmpty(*pskIDFlag, envCfg.DTLS.PSKID)
	if *timeoutFlag > 0 {
		finalCfg.DTLS.HandshakeTimeout = *timeoutFlag
	}
	if len(finalCfg.Messages) == 0 {
		finalCfg.Messages = []string{"hello"}
	}
	if finalCfg.DTLS.HandshakeTimeout <= 0 {
		finalCfg.DTLS.HandshakeTimeout = 10 * time.Second
	}

	// 3. 필수 필드 검증
	missing := []string{}
	if finalCfg.Remote == "" {
		missing = append(missing, "remote")
	}
	if finalCfg.DTLS.PSK == "" && finalCfg.DTLS.CredentialsFile == "" && !finalCfg.Debug {
		missing = append(missing, "psk_or_credentials_file")
	}
	if len(missing) > 0 {
		logger.Error("client config missing required fields", logging.Fields{
			"missing": missing,
		})
		os.Exit(1)
	}

	if finalCfg.Debug {
		logger = logging.NewStdJSONLoggerWithLevel("client", logging.DebugLevel, os.Stdout)
	} else if level, err := logging.ParseLevel(finalCfg.Logging.Level); err == nil {
		logger = logging.NewStdJSONLoggerWithLevel("client", level, os.Stdout)
	}

	logger.Info("sock-dtls echo client starting", logging.Fields{
		"local":             finalCfg.Local,
		"remote":            finalCfg.Remote,
		"messages":          len(finalCfg.Messages),
		"tag":               finalCfg.DTLS.Tag,
		"psk_masked":        maskPSK(finalCfg.DTLS.PSK),
		"psk_id":            finalCfg.DTLS.PSKID,
		"handshake_timeout": finalCfg.DTLS.HandshakeTimeout.String(),
		"debug":             finalCfg.Debug,
	})

	// 4. credential 등록
	sockdtls.Init()
	n, err := finalCfg.DTLS.LoadCredentials(credman.Default())
	if err != nil {
		logger.Error("failed to load dtls credentials", logging.Fields{
			"error": err.Error(),
		})
		os.Exit(1)
	}
	if n == 0 {
		// 디버그 모드: 임시 ECDSA 키를 쓰고 서버 공개키를 고정하지 않습니다.
		priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err == nil {
			err = credman.Add(credman.Credential{
				Tag:    credman.Tag(finalCfg.DTLS.Tag),
				Params: &credman.ECDSA{PrivateKey: priv},
			})
		}
		if err != nil {
			logger.Error("failed to create ephemeral ecdsa credential", logging.Fields{
				"error": err.Error(),
			})
			os.Exit(1)
		}
		logger.Warn("using ephemeral ecdsa credential without server pinning (debug mode)", nil)
	}

	// 5. UDP 바인딩 후 DTLS 소켓 생성
	local, err := udp.ParseEndpoint(finalCfg.Local)
	if err != nil {
		logger.Error("invalid local address", logging.Fields{
			"local": finalCfg.Local,
			"error": err.Error(),
		})
		os.Exit(1)
	}
	remote, err := udp.ParseEndpoint(finalCfg.Remote)
	if err != nil {
		logger.Error("invalid remote address", logging.Fields{
			"remote": finalCfg.Remote,
			"error":  err.Error(),
		})
		os.Exit(1)
	}
	conn, err := udp.Listen(local)
	if err != nil {
		logger.Error("failed to bind udp endpoint", logging.Fields{
			"local": finalCfg.Local,
			"error": err.Error(),
		})
		os.Exit(1)
	}
	defer conn.Close()

	sock, err := sockdtls.CreateWithConfig(conn, credman.Tag(finalCfg.DTLS.Tag), sockdtls.MethodDTLSv12, finalCfg.DTLS.SocketConfig(logger, finalCfg.Logging))
	if err != nil {
		logger.Error("failed to create dtls socket", logging.Fields{
			"error": err.Error(),
			"errno": sockdtls.Errno(err),
		})
		os.Exit(1)
	}
	defer sock.Destroy()

	// 6. 핸드셰이크
	started := time.Now()
	sess, err := sock.EstablishSession(remote, finalCfg.DTLS.HandshakeTimeout)
	if err != nil {
		logger.Error("dtls handshake failed", logging.Fields{
			"remote": remote.String(),
			"error":  err.Error(),
			"errno":  sockdtls.Errno(err),
		})
		os.Exit(1)
	}
	logger.Info("dtls handshake completed", logging.Fields{
		"remote":     sess.Remote.String(),
		"elapsed_ms": time.Since(started).Milliseconds(),
		"sock_id":    sock.ID(),
	})

	// 7. 메시지마다 echo 를 기다립니다.
	buf := make([]byte, 64*1024)
	failed := 0
	for _, msg := range finalCfg.Messages {
		if _, err := sock.Send(sess, []byte(msg)); err != nil {
			logger.Error("send failed", logging.Fields{
				"error": err.Error(),
				"errno": sockdtls.Errno(err),
			})
			failed++
			if errors.Is(err, sockdtls.ErrPeerClosed) {
				break
			}
			continue
		}
		from, n, err := sock.Recv(buf, finalCfg.DTLS.HandshakeTimeout)
		if err != nil {
			logger.Error("echo recv failed", logging.Fields{
				"error": err.Error(),
				"errno": sockdtls.Errno(err),
			})
			failed++
			if errors.Is(err, sockdtls.ErrPeerClosed) {
				break
			}
			continue
		}
		if !bytes.Equal(buf[:n], []byte(msg)) || from.Remote.Key() != sess.Remote.Key() {
			logger.Warn("unexpected echo", logging.Fields{
				"want":   msg,
				"got":    string(buf[:n]),
				"remote": from.Remote.String(),
			})
			failed++
			continue
		}
		logger.Info("echo received", logging.Fields{
			"message": msg,
			"bytes":   n,
		})
	}

	sock.CloseSession(sess)
	logger.Info("sock-dtls echo client finished", logging.Fields{
		"messages": len(finalCfg.Messages),
		"failed":   failed,
		"udp_send": conn.SendStats(),
		"udp_recv": conn.RecvStats(),
	})
	if failed > 0 {
		sock.Destroy()
		_ = conn.Close()
		os.Exit(1)
	}
}
