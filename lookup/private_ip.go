package lookup

import "net"

var privateIPv4Blocks = func() []*net.IPNet {
	cidrs := []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}
	blocks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, block, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(err)
		}
		blocks = append(blocks, block)
	}
	return blocks
}()

// isPrivateIPv4 reports whether value is a dotted-quad IPv4 address
// inside 10/8, 172.16/12, or 192.168/16. Non-IPv4 values are never
// private under this predicate — they pass through unfiltered.
func isPrivateIPv4(value string) bool {
	ip := net.ParseIP(value)
	if ip == nil {
		return false
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return false
	}
	for _, block := range privateIPv4Blocks {
		if block.Contains(ip4) {
			return true
		}
	}
	return false
}
