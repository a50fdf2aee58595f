package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// 전역 레지스트리에 등록할 DTLS 소켓 메트릭들을 정의합니다.
// Prometheus 기본 네임스페이스를 사용하며, 메트릭 이름에 sockdtls_ 접두어를 붙입니다.

var (
	// DTLS 핸드셰이크 종료 횟수 (역할/결과 라벨 포함).
	HandshakesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sockdtls_handshakes_total",
			Help: "Total number of finished DTLS handshakes, labeled by role and result.",
		},
		[]string{"role", "result"}, // result: success, failure, timeout
	)

	// 핸드셰이크 소요 시간 분포 (역할 라벨 포함).
	HandshakeDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sockdtls_handshake_duration_seconds",
			Help:    "Histogram of successful DTLS handshake latencies in seconds, labeled by role.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"role"},
	)

	// 현재 세션 테이블에 있는 세션 수 (모든 소켓 합계).
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sockdtls_sessions_active",
			Help: "Number of sessions currently held in DTLS socket session tables.",
		},
	)

	// demux 단계에서 버려진 데이터그램 수 (사유 라벨 포함).
	DatagramsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sockdtls_datagrams_dropped_total",
			Help: "Total number of inbound datagrams dropped by the demultiplexer, labeled by reason.",
		},
		[]string{"reason"}, // e.g. unknown_peer, not_client_hello, rate_limited, table_full
	)

	// 애플리케이션 평문 바이트 수 (방향 라벨 포함).
	PlaintextBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sockdtls_plaintext_bytes_total",
			Help: "Total application plaintext bytes, labeled by direction (tx, rx).",
		},
		[]string{"direction"},
	)
)

var registerOnce sync.Once

// MustRegister 는 위에서 정의한 메트릭들을 전역 Prometheus 레지스트리에 등록합니다.
// 여러 번 호출해도 한 번만 등록됩니다.
func MustRegister() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HandshakesTotal,
			HandshakeDurationSeconds,
			SessionsActive,
			DatagramsDroppedTotal,
			PlaintextBytesTotal,
		)
	})
}
