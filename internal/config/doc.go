// Package config loads the lab agent configuration.
//
// Values are resolved in this order, later sources winning:
//
//  1. built-in defaults (Default)
//  2. the TOML file, /etc/lab-agent/config.toml unless --config says otherwise
//  3. LABAGENT_* environment variables
//  4. command-line flags, applied by cmd/labagent
//
// A minimal file:
//
//	listen = ":62111"
//
//	[network]
//	name    = "lab_net"
//	driver  = "macvlan"
//	subnet  = "192.168.100.0/24"
//	gateway = "192.168.100.1"
//	parent  = "eth0"
//
//	[deploy]
//	launch_timeout  = "2m"
//	require_segment = true
package config
