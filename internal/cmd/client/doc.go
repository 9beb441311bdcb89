// Package client implements the pitline CLI command groups that talk to
// a running server over its HTTP API.
//
// The server address comes from PITLINE_HTTP (default
// http://127.0.0.1:8080). Commands print JSON responses to stdout so
// they compose with jq.
//
// Examples:
//
//	pitline location ensure --id shop-a --name "Main Workshop"
//	pitline queue join --location shop-a --customer cust-42 --motorcycle moto-7
//	pitline queue call-next --location shop-a
//	pitline queue snapshot --location shop-a
//	pitline queue watch --location shop-a --mode push
package client
