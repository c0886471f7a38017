// Package config provides configuration management for refgrab.
package config
