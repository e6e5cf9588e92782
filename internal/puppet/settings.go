// Package puppet resolves the Puppet settings the task needs to talk to the
// classifier: the node's certname and its TLS trust material.
package puppet

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mpilhlt/pe-platform-classes/internal/models"

	"gopkg.in/ini.v1"
)

// Error responses
var (
	ErrUnknownSetting  = errors.New("reference to unknown setting")
	ErrCyclicSetting   = errors.New("cyclic setting reference")
	ErrMissingCertname = errors.New("unable to determine certname")
)

// Sections read from puppet.conf, later sections override earlier ones.
// Keys above the first section header count as [main].
// Tasks run Puppet in the "user" run mode.
var sections = []string{ini.DefaultSection, "main", "user"}

// replaced in tests
var (
	hostname    = os.Hostname
	lookupCNAME = net.LookupCNAME
)

// builtins are Puppet's defaults for settings that puppet.conf values
// commonly refer to. confdir is added by Resolve.
var builtins = map[string]string{
	"codedir":         "/etc/puppetlabs/code",
	"vardir":          "/opt/puppetlabs/puppet/cache",
	"publicdir":       "/opt/puppetlabs/puppet/public",
	"rundir":          "/var/run/puppetlabs",
	"logdir":          "/var/log/puppetlabs/puppet",
	"statedir":        "$vardir/state",
	"environmentpath": "$codedir/environments",
	"ssldir":          "$confdir/ssl",
	"certdir":         "$ssldir/certs",
	"privatekeydir":   "$ssldir/private_keys",
	"publickeydir":    "$ssldir/public_keys",
	"requestdir":      "$ssldir/certificate_requests",
	"hostcert":        "$certdir/$certname.pem",
	"hostprivkey":     "$privatekeydir/$certname.pem",
	"hostpubkey":      "$publickeydir/$certname.pem",
	"localcacert":     "$certdir/ca.pem",
	"hostcrl":         "$ssldir/crl.pem",
}

// metadata such as "{owner = service, mode = 0640}" may trail a value
var metadataRe = regexp.MustCompile(`\s*\{[^}]*\}\s*$`)

// Settings holds the resolved values.
type Settings struct {
	Certname    string
	Confdir     string
	SSLDir      string
	Hostcert    string
	Hostprivkey string
	Localcacert string
}

// Load reads the relevant sections of a puppet.conf file.
// A missing file yields no values and no error.
func Load(path string) (map[string]string, error) {
	values := map[string]string{}
	if path == "" {
		return values, nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return values, nil
	}

	cfg, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:     true,
		SkipUnrecognizableLines: true,
	}, path)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", path, err)
	}
	for _, name := range sections {
		section, err := cfg.GetSection(name)
		if err != nil {
			continue
		}
		for _, key := range section.Keys() {
			values[key.Name()] = metadataRe.ReplaceAllString(key.String(), "")
		}
	}
	return values, nil
}

// Resolve computes the settings from puppet.conf, Puppet's defaults and the
// explicit overrides in options (which win over everything else).
func Resolve(options *models.Options) (Settings, error) {
	values, err := Load(options.PuppetConf)
	if err != nil {
		return Settings{}, err
	}

	confdir := "/etc/puppetlabs/puppet"
	if options.PuppetConf != "" {
		confdir = filepath.Dir(options.PuppetConf)
	}
	raw := map[string]string{"confdir": confdir}
	for k, v := range builtins {
		raw[k] = v
	}
	if name := fqdn(); name != "" {
		raw["certname"] = name
	}
	for k, v := range values {
		raw[k] = v
	}
	for k, v := range map[string]string{
		"certname":    options.Certname,
		"hostcert":    options.Hostcert,
		"hostprivkey": options.Hostprivkey,
		"localcacert": options.Localcacert,
	} {
		if v != "" {
			raw[k] = v
		}
	}
	if raw["certname"] == "" {
		return Settings{}, ErrMissingCertname
	}

	r := newResolver(raw)
	s := Settings{
		Certname:    r.get("certname"),
		Confdir:     r.get("confdir"),
		SSLDir:      r.get("ssldir"),
		Hostcert:    r.get("hostcert"),
		Hostprivkey: r.get("hostprivkey"),
		Localcacert: r.get("localcacert"),
	}
	if r.err != nil {
		return Settings{}, r.err
	}
	return s, nil
}

// fqdn returns the lowercased fully qualified name of this host, which is
// Puppet's default certname. A short hostname is qualified through DNS and
// kept as is when the lookup fails.
func fqdn() string {
	name, err := hostname()
	if err != nil || name == "" {
		return ""
	}
	if !strings.Contains(name, ".") {
		if cname, err := lookupCNAME(name); err == nil {
			if cname = strings.TrimSuffix(cname, "."); strings.HasPrefix(strings.ToLower(cname), strings.ToLower(name)+".") {
				name = cname
			}
		}
	}
	return strings.ToLower(name)
}

// resolver expands $name and ${name} references between settings.
type resolver struct {
	raw       map[string]string
	resolved  map[string]string
	resolving map[string]bool
	err       error
}

func newResolver(raw map[string]string) *resolver {
	return &resolver{
		raw:       raw,
		resolved:  map[string]string{},
		resolving: map[string]bool{},
	}
}

func (r *resolver) get(name string) string {
	if v, ok := r.resolved[name]; ok {
		return v
	}
	raw, ok := r.raw[name]
	if !ok {
		r.fail(fmt.Errorf("%w: $%s", ErrUnknownSetting, name))
		return ""
	}
	if r.resolving[name] {
		r.fail(fmt.Errorf("%w: $%s", ErrCyclicSetting, name))
		return ""
	}
	r.resolving[name] = true
	v := os.Expand(raw, r.get)
	delete(r.resolving, name)
	r.resolved[name] = v
	return v
}

func (r *resolver) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}
