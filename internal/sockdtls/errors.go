package sockdtls

import (
	"errors"
	"fmt"

	"github.com/dalbodeule/sock-dtls/internal/credman"
	"github.com/dalbodeule/sock-dtls/internal/dtls"
)

// facade 경계에서 노출되는 오류 종류입니다. 모든 오류는 errors.Is 로 비교할 수 있습니다.
var (
	// ErrWouldBlock 은 non-blocking 호출에서 진행할 수 있는 일이 없을 때 반환됩니다.
	ErrWouldBlock = errors.New("sockdtls: operation would block")
	// ErrNoLocalAddr 는 UDP 엔드포인트에 바인딩된 로컬 주소가 없을 때 반환됩니다.
	ErrNoLocalAddr = errors.New("sockdtls: udp endpoint has no local address")
	// ErrInvalidArg 는 잘못된 엔드포인트, 파괴된 소켓 등 인자 오류입니다.
	ErrInvalidArg = errors.New("sockdtls: invalid argument")
	// ErrAddrInUse 는 Send 시 UDP 엔드포인트에 로컬 주소가 없을 때 반환됩니다.
	ErrAddrInUse = errors.New("sockdtls: udp endpoint has no local endpoint")
	// ErrAddrFamily 는 원격 주소 체계를 로컬 엔드포인트가 지원하지 않을 때 반환됩니다.
	ErrAddrFamily = errors.New("sockdtls: address family not supported")
	// ErrHostUnreachable 은 UDP 계층이 송신을 거부했을 때 반환됩니다.
	ErrHostUnreachable = errors.New("sockdtls: host unreachable")
	// ErrBufferTooSmall 은 호출자 버퍼나 저장 한도가 평문/피어 크리덴셜보다 작을 때 반환됩니다.
	ErrBufferTooSmall = errors.New("sockdtls: buffer too small")
	// ErrOutOfMemory 는 세션 테이블이 가득 찼거나 드라이버 할당이 실패했을 때 반환됩니다.
	ErrOutOfMemory = errors.New("sockdtls: out of memory")
	// ErrTimedOut 은 핸드셰이크나 수신 deadline 이 지났을 때 반환됩니다.
	ErrTimedOut = errors.New("sockdtls: timed out")
	// ErrHandshakeFailed 는 피어 alert 나 인증 실패로 핸드셰이크가 끝났을 때 반환됩니다.
	ErrHandshakeFailed = errors.New("sockdtls: handshake failed")
	// ErrNotInitialized 는 Init 전에 Create 를 호출했을 때 반환됩니다.
	ErrNotInitialized = errors.New("sockdtls: Init has not been called")
)

// ErrPeerClosed 는 피어가 세션을 닫았거나 레코드 계층이 치명적으로 실패했음을 뜻합니다.
// 해당 세션은 더 이상 유효하지 않으므로 ErrInvalidArg 로도 매칭됩니다.
var ErrPeerClosed = fmt.Errorf("%w: session closed by peer", ErrInvalidArg)

// Errno 는 facade 오류를 음수 POSIX errno 값으로 변환합니다. nil 은 0 입니다.
// 알 수 없는 오류는 -EIO 로 취급합니다.
func Errno(err error) int {
	if err == nil {
		return 0
	}
	// ErrPeerClosed 는 ErrInvalidArg 를 감싸므로 먼저 검사합니다.
	for _, m := range errnoTable {
		if errors.Is(err, m.err) {
			return -m.errno
		}
	}
	return -errnoEIO
}

type errnoMapping struct {
	err   error
	errno int
}

var errnoTable = []errnoMapping{
	{ErrPeerClosed, errnoENOTCONN},
	{ErrHandshakeFailed, errnoECONNRESET},
	{ErrWouldBlock, errnoEAGAIN},
	{ErrNoLocalAddr, errnoEADDRNOTAVAIL},
	{ErrInvalidArg, errnoEINVAL},
	{ErrNotInitialized, errnoEINVAL},
	{ErrAddrInUse, errnoEADDRINUSE},
	{ErrAddrFamily, errnoEAFNOSUPPORT},
	{ErrHostUnreachable, errnoEHOSTUNREACH},
	{ErrBufferTooSmall, errnoENOBUFS},
	{ErrOutOfMemory, errnoENOMEM},
	{ErrTimedOut, errnoETIMEDOUT},
	{dtls.ErrUnsupportedVersion, errnoEINVAL},
	{credman.ErrNotFound, errnoEINVAL},
}
