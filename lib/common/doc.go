/*
Package common holds what the kvx command line needs to assemble a host: the logger factory
for the dragonboat logging facade, the host configuration and the module manifest.

Call InitLoggers before anything logs, so every package logger uses the kvx format:

	2025/01/01 12:00:00 INFO  | module       | registered module hash (8 commands)
*/
package common
