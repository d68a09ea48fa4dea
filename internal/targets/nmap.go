package targets

import (
	"fmt"
	"os"

	nmap "github.com/Ullaakut/nmap/v3"
)

// ParseNmapXML extracts the hosts of an nmap XML report that expose a service
// accepted by filter.
func ParseNmapXML(path string, filter ServiceFilter) ([]Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	run := &nmap.Run{}
	if err := nmap.Parse(data, run); err != nil {
		return nil, fmt.Errorf("parse nmap xml: %w", err)
	}

	var out []Target
	for _, host := range run.Hosts {
		if host.Status.State != "" && host.Status.State != "up" {
			continue
		}
		addr := hostAddress(host)
		if addr == "" {
			continue
		}
		hostname := ""
		if len(host.Hostnames) > 0 {
			hostname = host.Hostnames[0].Name
		}

		if filter.empty() {
			out = append(out, Target{Addr: addr, Hostname: hostname})
			continue
		}

		for _, port := range host.Ports {
			if port.State.State != "open" {
				continue
			}
			if !filter.match(int(port.ID), port.Service.Name) {
				continue
			}
			out = append(out, Target{
				Addr:     addr,
				Port:     int(port.ID),
				Hostname: hostname,
				Service:  port.Service.Name,
			})
			break
		}
	}
	return out, nil
}

func hostAddress(host nmap.Host) string {
	for _, a := range host.Addresses {
		if a.AddrType == "ipv4" || a.AddrType == "ipv6" {
			return a.Addr
		}
	}
	return ""
}
