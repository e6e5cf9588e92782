package models

// Options for the CLI.
// Empty Puppet settings are resolved from puppet.conf and Puppet's defaults.
type Options struct {
	Debug       bool   `doc:"Enable debug logging" short:"d" default:"false"`
	LogFile     string `doc:"Write log output to this file (rotated) instead of stderr"`
	PuppetConf  string `doc:"Path to puppet.conf" default:"/etc/puppetlabs/puppet/puppet.conf"`
	Certname    string `doc:"Certname of this node (defaults to puppet.conf, then hostname)"`
	Hostcert    string `doc:"Client certificate (PEM) used for mutual TLS"`
	Hostprivkey string `doc:"Client private key (PEM) used for mutual TLS"`
	Localcacert string `doc:"CA bundle (PEM) used to verify the classifier"`
	Server      string `doc:"Classifier hostname (defaults to the certname)"`
	Port        int    `doc:"Classifier port" short:"p" default:"4433"`
	Timeout     int    `doc:"Timeout in seconds for each classifier request (0 disables it)" default:"0"`
	Group       string `doc:"Name of the node group to clean up" default:"PE Master"`
	Prefix      string `doc:"Class name prefix to remove" default:"pe_repo::platform::"`
	History     bool   `doc:"Record every run in the history database" default:"false"`
	DBHost      string `doc:"Database hostname" default:"localhost"`
	DBPort      int    `doc:"Database port" default:"5432"`
	DBUser      string `doc:"Database username" default:"postgres"`
	DBPassword  string `doc:"Database password" default:"password"`
	DBName      string `doc:"Database name" default:"postgres"`
}

// Defaults used when the corresponding option is empty.
const (
	DefaultPort   = 4433
	DefaultGroup  = "PE Master"
	DefaultPrefix = "pe_repo::platform::"
)
