package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownEnterprise is returned for an enterprise preset not in the table.
var ErrUnknownEnterprise = errors.New("unknown enterprise server preset")

// Server is the address of a provider's mail server.
type Server struct {
	Host string
	Port int
	TLS  bool
}

// Addr returns host:port.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// providerPOP3 maps mail domains to their POP3 servers. All use implicit TLS.
var providerPOP3 = map[string]Server{
	"163.com":     {Host: "pop.163.com", Port: 995, TLS: true},
	"126.com":     {Host: "pop.126.com", Port: 995, TLS: true},
	"yeah.net":    {Host: "pop.yeah.net", Port: 995, TLS: true},
	"qq.com":      {Host: "pop.qq.com", Port: 995, TLS: true},
	"gmail.com":   {Host: "pop.gmail.com", Port: 995, TLS: true},
	"sina.com":    {Host: "pop.sina.com", Port: 995, TLS: true},
	"outlook.com": {Host: "pop.outlook.com", Port: 995, TLS: true},
	"hotmail.com": {Host: "outlook.office365.com", Port: 995, TLS: true},
}

// enterprisePOP3 maps hosted-domain presets to their POP3 servers.
var enterprisePOP3 = map[string]Server{
	"qq":  {Host: "pop.exmail.qq.com", Port: 995, TLS: true},
	"ali": {Host: "pop3.mxhichina.com", Port: 995, TLS: true},
}

// LookupServer returns the POP3 server for a mail address. Unknown domains
// get pop3.<domain> on port 995 with TLS.
func LookupServer(address string) (Server, error) {
	at := strings.LastIndexByte(address, '@')
	if at < 0 || at == len(address)-1 {
		return Server{}, fmt.Errorf("%w: mail address %q has no domain", ErrInvalid, address)
	}
	domain := strings.ToLower(address[at+1:])
	if s, ok := providerPOP3[domain]; ok {
		return s, nil
	}
	return Server{Host: "pop3." + domain, Port: 995, TLS: true}, nil
}

// EnterpriseServer returns the POP3 server of an enterprise preset.
func EnterpriseServer(name string) (Server, error) {
	s, ok := enterprisePOP3[strings.ToLower(name)]
	if !ok {
		return Server{}, fmt.Errorf("%w: %q", ErrUnknownEnterprise, name)
	}
	return s, nil
}

// Server resolves the POP3 server: an explicit host wins, then the
// enterprise preset, then the table entry for the user's domain.
func (p POP3Config) Server() (Server, error) {
	if p.Host != "" {
		port := p.Port
		if port == 0 {
			port = 110
			if p.TLS {
				port = 995
			}
		}
		return Server{Host: p.Host, Port: port, TLS: p.TLS}, nil
	}

	var (
		s   Server
		err error
	)
	if p.Enterprise != "" {
		s, err = EnterpriseServer(p.Enterprise)
	} else {
		s, err = LookupServer(p.User)
	}
	if err != nil {
		return Server{}, err
	}
	if p.Port != 0 {
		s.Port = p.Port
	}
	return s, nil
}
