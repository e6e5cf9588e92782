package puppet

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mpilhlt/pe-platform-classes/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConf(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "puppet.conf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func fixedHostname(name string) func() {
	origHost, origLookup := hostname, lookupCNAME
	hostname = func() (string, error) { return name, nil }
	lookupCNAME = func(string) (string, error) { return "", errors.New("no such host") }
	return func() {
		hostname = origHost
		lookupCNAME = origLookup
	}
}

func TestResolve(t *testing.T) {
	defer fixedHostname("Primary.Example.COM")()

	tt := []struct {
		name    string
		conf    string
		options models.Options
		want    Settings
	}{
		{
			name: "Defaults from hostname",
			conf: "",
			want: Settings{
				Certname:    "primary.example.com",
				Hostcert:    "$confdir/ssl/certs/primary.example.com.pem",
				Hostprivkey: "$confdir/ssl/private_keys/primary.example.com.pem",
				Localcacert: "$confdir/ssl/certs/ca.pem",
				SSLDir:      "$confdir/ssl",
			},
		},
		{
			name: "Certname and ssldir from main section",
			conf: "[main]\ncertname = pe.example.net\nssldir = /opt/ssl {owner = service}\n",
			want: Settings{
				Certname:    "pe.example.net",
				Hostcert:    "/opt/ssl/certs/pe.example.net.pem",
				Hostprivkey: "/opt/ssl/private_keys/pe.example.net.pem",
				Localcacert: "/opt/ssl/certs/ca.pem",
				SSLDir:      "/opt/ssl",
			},
		},
		{
			name: "User section overrides main",
			conf: "[main]\ncertname = main.example.net\n[user]\ncertname = user.example.net\n[agent]\ncertname = agent.example.net\n",
			want: Settings{
				Certname:    "user.example.net",
				Hostcert:    "$confdir/ssl/certs/user.example.net.pem",
				Hostprivkey: "$confdir/ssl/private_keys/user.example.net.pem",
				Localcacert: "$confdir/ssl/certs/ca.pem",
				SSLDir:      "$confdir/ssl",
			},
		},
		{
			name: "Braced references",
			conf: "[main]\nvardir = /var/puppet\nssldir = ${vardir}/ssl\nlocalcacert = ${ssldir}/ca/ca_crt.pem\n",
			want: Settings{
				Certname:    "primary.example.com",
				Hostcert:    "/var/puppet/ssl/certs/primary.example.com.pem",
				Hostprivkey: "/var/puppet/ssl/private_keys/primary.example.com.pem",
				Localcacert: "/var/puppet/ssl/ca/ca_crt.pem",
				SSLDir:      "/var/puppet/ssl",
			},
		},
		{
			name: "Keys before the first section count as main",
			conf: "certname = top.example.net\n[main]\nssldir = /opt/ssl\n",
			want: Settings{
				Certname:    "top.example.net",
				Hostcert:    "/opt/ssl/certs/top.example.net.pem",
				Hostprivkey: "/opt/ssl/private_keys/top.example.net.pem",
				Localcacert: "/opt/ssl/certs/ca.pem",
				SSLDir:      "/opt/ssl",
			},
		},
		{
			name: "Main section overrides keys before it",
			conf: "certname = top.example.net\n[main]\ncertname = main.example.net\n",
			want: Settings{
				Certname:    "main.example.net",
				Hostcert:    "$confdir/ssl/certs/main.example.net.pem",
				Hostprivkey: "$confdir/ssl/private_keys/main.example.net.pem",
				Localcacert: "$confdir/ssl/certs/ca.pem",
				SSLDir:      "$confdir/ssl",
			},
		},
		{
			name: "Reference to vardir default",
			conf: "[main]\nssldir = $vardir/ssl\n",
			want: Settings{
				Certname:    "primary.example.com",
				Hostcert:    "/opt/puppetlabs/puppet/cache/ssl/certs/primary.example.com.pem",
				Hostprivkey: "/opt/puppetlabs/puppet/cache/ssl/private_keys/primary.example.com.pem",
				Localcacert: "/opt/puppetlabs/puppet/cache/ssl/certs/ca.pem",
				SSLDir:      "/opt/puppetlabs/puppet/cache/ssl",
			},
		},
		{
			name: "Reference to codedir default",
			conf: "[main]\nlocalcacert = $codedir/../ca.pem\n",
			want: Settings{
				Certname:    "primary.example.com",
				Hostcert:    "$confdir/ssl/certs/primary.example.com.pem",
				Hostprivkey: "$confdir/ssl/private_keys/primary.example.com.pem",
				Localcacert: "/etc/puppetlabs/code/../ca.pem",
				SSLDir:      "$confdir/ssl",
			},
		},
		{
			name: "References to other directory defaults",
			conf: "[main]\nssldir = ${statedir}/ssl\nhostcert = $rundir/$certname.pem\nhostprivkey = $logdir/key.pem\nlocalcacert = $publicdir/ca.pem\n",
			want: Settings{
				Certname:    "primary.example.com",
				Hostcert:    "/var/run/puppetlabs/primary.example.com.pem",
				Hostprivkey: "/var/log/puppetlabs/puppet/key.pem",
				Localcacert: "/opt/puppetlabs/puppet/public/ca.pem",
				SSLDir:      "/opt/puppetlabs/puppet/cache/state/ssl",
			},
		},
		{
			name:    "Options override everything",
			conf:    "[main]\ncertname = pe.example.net\n",
			options: models.Options{Certname: "other.example.net", Localcacert: "/tmp/ca.pem"},
			want: Settings{
				Certname:    "other.example.net",
				Hostcert:    "$confdir/ssl/certs/other.example.net.pem",
				Hostprivkey: "$confdir/ssl/private_keys/other.example.net.pem",
				Localcacert: "/tmp/ca.pem",
				SSLDir:      "$confdir/ssl",
			},
		},
	}

	for _, v := range tt {
		t.Run(v.name, func(t *testing.T) {
			options := v.options
			options.PuppetConf = writeConf(t, v.conf)
			confdir := filepath.Dir(options.PuppetConf)

			got, err := Resolve(&options)
			require.NoError(t, err)

			expand := func(s string) string {
				return os.Expand(s, func(string) string { return confdir })
			}
			assert.Equal(t, v.want.Certname, got.Certname)
			assert.Equal(t, confdir, got.Confdir)
			assert.Equal(t, expand(v.want.SSLDir), got.SSLDir)
			assert.Equal(t, expand(v.want.Hostcert), got.Hostcert)
			assert.Equal(t, expand(v.want.Hostprivkey), got.Hostprivkey)
			assert.Equal(t, expand(v.want.Localcacert), got.Localcacert)
		})
	}
}

func TestResolveMissingFile(t *testing.T) {
	defer fixedHostname("node1")()

	options := models.Options{PuppetConf: filepath.Join(t.TempDir(), "missing", "puppet.conf")}
	got, err := Resolve(&options)
	require.NoError(t, err)
	assert.Equal(t, "node1", got.Certname)
	assert.Equal(t, filepath.Join(filepath.Dir(options.PuppetConf), "ssl", "certs", "ca.pem"), got.Localcacert)
}

func TestResolveErrors(t *testing.T) {
	defer fixedHostname("node1")()

	tt := []struct {
		name    string
		conf    string
		wantErr error
	}{
		{
			name:    "Unknown reference",
			conf:    "[main]\nssldir = $nosuchdir/ssl\n",
			wantErr: ErrUnknownSetting,
		},
		{
			name:    "Cyclic reference",
			conf:    "[main]\nssldir = $certdir/..\n",
			wantErr: ErrCyclicSetting,
		},
	}

	for _, v := range tt {
		t.Run(v.name, func(t *testing.T) {
			options := models.Options{PuppetConf: writeConf(t, v.conf)}
			_, err := Resolve(&options)
			assert.ErrorIs(t, err, v.wantErr)
		})
	}
}

func TestResolveWithoutCertname(t *testing.T) {
	defer fixedHostname("")()
	hostname = func() (string, error) { return "", os.ErrNotExist }

	options := models.Options{PuppetConf: writeConf(t, "[main]\n")}
	_, err := Resolve(&options)
	assert.ErrorIs(t, err, ErrMissingCertname)
}

func TestDefaultCertnameIsFQDN(t *testing.T) {
	tt := []struct {
		name   string
		host   string
		cname  string
		lookup error
		want   string
	}{
		{name: "Qualified hostname", host: "Node1.Example.COM", want: "node1.example.com"},
		{name: "Short hostname qualified by DNS", host: "node1", cname: "Node1.example.com.", want: "node1.example.com"},
		{name: "Lookup fails", host: "node1", lookup: errors.New("no such host"), want: "node1"},
		{name: "Alias to another host", host: "node1", cname: "lb.example.com.", want: "node1"},
	}

	for _, v := range tt {
		t.Run(v.name, func(t *testing.T) {
			defer fixedHostname(v.host)()
			lookupCNAME = func(name string) (string, error) {
				assert.Equal(t, v.host, name)
				return v.cname, v.lookup
			}

			options := models.Options{PuppetConf: writeConf(t, "[main]\n")}
			got, err := Resolve(&options)
			require.NoError(t, err)
			assert.Equal(t, v.want, got.Certname)
			assert.Equal(t, filepath.Join(filepath.Dir(options.PuppetConf), "ssl", "certs", v.want+".pem"), got.Hostcert)
		})
	}
}
