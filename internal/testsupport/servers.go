package testsupport

// FakeServer describes one catalog entry for ServerList.
type FakeServer struct {
	Gateway     string
	CountryCode string
	Country     string
	City        string
	Hosts       []string
}

// ServerList builds a ServerListResp payload in wire form. WireGuard entries
// carry host objects and OpenVPN entries carry bare addresses, like the
// real service.
func ServerList(id int64, wireguard, openvpn []FakeServer) map[string]any {
	wg := make([]map[string]any, 0, len(wireguard))
	for _, s := range wireguard {
		hosts := make([]map[string]any, 0, len(s.Hosts))
		for _, h := range s.Hosts {
			hosts = append(hosts, map[string]any{"host": h, "hostname": s.Gateway, "public_key": "pk-" + h, "local_ip": "172.16.0.1"})
		}
		wg = append(wg, map[string]any{
			"gateway":      s.Gateway,
			"country_code": s.CountryCode,
			"country":      s.Country,
			"city":         s.City,
			"hosts":        hosts,
		})
	}
	ovpn := make([]map[string]any, 0, len(openvpn))
	for _, s := range openvpn {
		ovpn = append(ovpn, map[string]any{
			"gateway":      s.Gateway,
			"country_code": s.CountryCode,
			"country":      s.Country,
			"city":         s.City,
			"ip_addresses": s.Hosts,
		})
	}
	return Reply("ServerListResp", id, map[string]any{
		"vpn_servers": map[string]any{
			"wireguard": wg,
			"openvpn":   ovpn,
			"config": map[string]any{
				"dns": map[string]any{"antitracker": "10.0.254.2", "antitracker_hardcore": "10.0.254.3"},
				"api": map[string]any{"ips": []string{"198.51.100.1"}},
			},
		},
	})
}

// PingResults builds a PingServersResp event from host → milliseconds.
func PingResults(pings map[string]int) map[string]any {
	results := make([]map[string]any, 0, len(pings))
	for host, ms := range pings {
		results = append(results, map[string]any{"host": host, "ping": ms})
	}
	return Reply("PingServersResp", 0, map[string]any{"ping_results": results})
}
