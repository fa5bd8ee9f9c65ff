// Command imgconv converts batches of images between container formats.
//
// Subcommands:
//
//	convert   decode inputs, convert them to --to, and write a tar archive
//	inspect   detect and decode inputs without converting
//	formats   list known formats and which directions work
//	history   show the conversion journal
//	config    init, show, or validate the configuration file
//
// Tables go to stdout; logs go to stderr. Every data command accepts --json.
package main
