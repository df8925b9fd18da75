//go:build cloudsight_nooauth

package config

const OAuthSupported = false
