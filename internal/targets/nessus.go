package targets

import (
	"encoding/xml"
	"fmt"
	"os"
	"strconv"
)

type nessusReport struct {
	XMLName xml.Name `xml:"NessusClientData_v2"`
	Reports []struct {
		Hosts []nessusHost `xml:"ReportHost"`
	} `xml:"Report"`
}

type nessusHost struct {
	Name       string `xml:"name,attr"`
	Properties []struct {
		Name  string `xml:"name,attr"`
		Value string `xml:",chardata"`
	} `xml:"HostProperties>tag"`
	Items []struct {
		Port    string `xml:"port,attr"`
		Service string `xml:"svc_name,attr"`
	} `xml:"ReportItem"`
}

func (h nessusHost) property(name string) string {
	for _, p := range h.Properties {
		if p.Name == name {
			return p.Value
		}
	}
	return ""
}

// ParseNessus extracts the hosts of a .nessus (v2) report that expose a
// service accepted by filter.
func ParseNessus(path string, filter ServiceFilter) ([]Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var report nessusReport
	if err := xml.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parse nessus xml: %w", err)
	}

	var out []Target
	for _, r := range report.Reports {
		for _, host := range r.Hosts {
			addr := host.property("host-ip")
			if addr == "" {
				addr = host.Name
			}
			if addr == "" {
				continue
			}
			hostname := host.property("host-fqdn")

			if filter.empty() {
				out = append(out, Target{Addr: addr, Hostname: hostname})
				continue
			}
			for _, item := range host.Items {
				port, _ := strconv.Atoi(item.Port)
				if port == 0 || !filter.match(port, item.Service) {
					continue
				}
				out = append(out, Target{Addr: addr, Port: port, Hostname: hostname, Service: item.Service})
				break
			}
		}
	}
	return out, nil
}
