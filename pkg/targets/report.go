package targets

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
)

// Report is the subset of an nmap XML run that portshot reads. The root
// element name is recorded but not enforced.
// Reference: https://nmap.org/book/output-formats-output-to-xml.html
type Report struct {
	XMLName xml.Name
	Hosts   []Host `xml:"host"`
}

type Host struct {
	Status    Status    `xml:"status"`
	Addresses []Address `xml:"address"`
	Ports     []Port    `xml:"ports>port"`
}

type Status struct {
	State string `xml:"state,attr"`
}

type Address struct {
	Addr     string `xml:"addr,attr"`
	AddrType string `xml:"addrtype,attr"`
}

type Port struct {
	Protocol string    `xml:"protocol,attr"`
	PortID   string    `xml:"portid,attr"`
	State    PortState `xml:"state"`
	Service  *Service  `xml:"service"`
}

type PortState struct {
	State string `xml:"state,attr"`
}

type Service struct {
	Name    string `xml:"name,attr"`
	Product string `xml:"product,attr"`
	Tunnel  string `xml:"tunnel,attr"`
}

// Address returns the first address listed for the host, which is the one
// nmap scanned. Hosts without an address yield "".
func (h Host) Address() string {
	if len(h.Addresses) == 0 {
		return ""
	}
	return h.Addresses[0].Addr
}

// ParseError reports a scan report that could not be read or decoded.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("parse scan report: %v", e.Err)
	}
	return fmt.Sprintf("parse scan report %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseReport decodes an nmap XML report.
func ParseReport(r io.Reader) (*Report, error) {
	var report Report
	if err := xml.NewDecoder(r).Decode(&report); err != nil {
		return nil, &ParseError{Err: err}
	}
	return &report, nil
}

// ParseFile opens and decodes the nmap XML report at path.
func ParseFile(path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	defer f.Close()

	report, err := ParseReport(f)
	var perr *ParseError
	if errors.As(err, &perr) {
		perr.Path = path
	}
	return report, err
}
