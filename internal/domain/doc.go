// Package domain contains the core types, repository interfaces, and sentinel
// errors shared by the relay, the account service, and the persistence adapters.
package domain
