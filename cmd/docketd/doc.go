// Command docketd runs the docket processing daemon. It loads the TOML
// configuration, wires the processing system, and watches the intake
// directory for documents until it receives SIGINT or SIGTERM.
package main
