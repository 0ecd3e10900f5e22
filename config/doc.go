// Package config resolves engine settings hierarchically: built-in
// defaults, then ~/.config/medflow/config.yaml, then the nearest
// .medflow.yaml up the directory tree, then MEDFLOW_* environment
// variables. Later sources win.
package config
