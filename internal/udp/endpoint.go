package udp

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
)

// DefaultDTLSPort 는 DTLS 서버가 기본으로 수신하는 UDP 포트입니다.
const DefaultDTLSPort = 20220

// Family 는 엔드포인트의 주소 체계입니다.
type Family int

const (
	FamilyUnspec Family = iota
	FamilyINET
	FamilyINET6
)

func (f Family) String() string {
	switch f {
	case FamilyINET:
		return "inet"
	case FamilyINET6:
		return "inet6"
	default:
		return "unspec"
	}
}

// Endpoint 는 UDP 원격/로컬 엔드포인트입니다.
//   - Addr  : 주소 (zone 은 제거되어 있고, 스코프는 Netif 로 표현)
//   - Port  : 포트
//   - Netif : 네트워크 인터페이스 인덱스 (0 = 지정 안 함)
//
// 값 타입이며 == 로 비교할 수 있습니다. 세션 테이블 키로는 Key() 를 사용하세요.
type Endpoint struct {
	Addr  netip.Addr
	Port  uint16
	Netif int
}

// EndpointFromAddrPort 는 netip.AddrPort 로부터 Endpoint 를 만듭니다.
// IPv4-mapped IPv6 주소는 IPv4 로 정규화되고, zone 은 netif 로 옮겨집니다.
func EndpointFromAddrPort(ap netip.AddrPort, netif int) Endpoint {
	addr := ap.Addr()
	zone := addr.Zone()
	addr = addr.Unmap().WithZone("")
	if netif == 0 && zone != "" {
		netif = zoneIndex(zone)
	}
	return Endpoint{Addr: addr, Port: ap.Port(), Netif: netif}
}

// ParseEndpoint 는 "[::1]:20220", "127.0.0.1:20220", "[fe80::1%2]:20220" 형태를 파싱합니다.
func ParseEndpoint(s string) (Endpoint, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse endpoint %q: %w", s, err)
	}
	return EndpointFromAddrPort(ap, 0), nil
}

// Family 는 주소 체계를 반환합니다.
func (e Endpoint) Family() Family {
	switch {
	case !e.Addr.IsValid():
		return FamilyUnspec
	case e.Addr.Is4() || e.Addr.Is4In6():
		return FamilyINET
	default:
		return FamilyINET6
	}
}

// IsUnspecified 는 주소가 비어 있거나 0.0.0.0 / :: 인지 확인합니다.
func (e Endpoint) IsUnspecified() bool {
	return !e.Addr.IsValid() || e.Addr.IsUnspecified()
}

// Key 는 세션 테이블에서 사용할 정규화된 키를 반환합니다.
// 인터페이스 인덱스는 link-local 주소에서만 의미가 있으므로 그 외에는 0 으로 맞춥니다.
func (e Endpoint) Key() Endpoint {
	k := Endpoint{Addr: e.Addr.Unmap().WithZone(""), Port: e.Port}
	if k.Addr.IsLinkLocalUnicast() || k.Addr.IsLinkLocalMulticast() {
		k.Netif = e.Netif
	}
	return k
}

// AddrPort 는 송신에 사용할 netip.AddrPort 를 반환합니다.
// link-local 주소에 Netif 가 지정되어 있으면 숫자 zone 을 붙입니다.
func (e Endpoint) AddrPort() netip.AddrPort {
	addr := e.Addr
	if e.Netif != 0 && addr.Is6() && addr.IsLinkLocalUnicast() {
		addr = addr.WithZone(strconv.Itoa(e.Netif))
	}
	return netip.AddrPortFrom(addr, e.Port)
}

func (e Endpoint) String() string {
	if !e.Addr.IsValid() {
		return fmt.Sprintf("[unspec]:%d", e.Port)
	}
	s := netip.AddrPortFrom(e.Addr, e.Port).String()
	if e.Netif != 0 {
		s += "%" + strconv.Itoa(e.Netif)
	}
	return s
}

func zoneIndex(zone string) int {
	if n, err := strconv.Atoi(zone); err == nil {
		return n
	}
	if ifi, err := net.InterfaceByName(zone); err == nil {
		return ifi.Index
	}
	return 0
}
