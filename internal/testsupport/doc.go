// Package testsupport holds fixtures shared by package tests: temp-directory
// configurations, generated PNG inputs, and pre-populated stores.
package testsupport
