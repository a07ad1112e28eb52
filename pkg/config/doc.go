// Package config loads declarative deployment configurations written in CUE.
//
// A deployment configuration names the resource group, server, firewall
// rules, elastic pools, and databases to ensure, plus options that switch the
// optional pipeline stages on. Parsing unifies the input with an embedded CUE
// schema, decodes it, runs struct-tag validation, and finally checks the core
// topology invariants so a bad configuration never reaches a provider call.
package config
