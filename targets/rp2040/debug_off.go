//go:build rp2040 && !debuguart

package main

func initDebug() {}
