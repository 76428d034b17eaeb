// Copyright 2017 Aleksey Blinov. All rights reserved.

// Command sendapn pushes notifications to Apple devices from the command
// line.
//
//	sendapn -c cert.pem -k key.pem -a ca.pem -b com.example.MyApp \
//	    -t <hex-token> -m "hello"
//
// With -i the program instead reads one notification per line from
// standard input in the form
//
//	token:sound:title:message
//
// and pushes each as it is read. -s selects the sandbox gateway. The exit
// code is 0 only when every notification was accepted.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/kylebshr/push-notify-apn/apn"
)

func main() {
	certFile := flag.String("c", "", "client certificate `file` (PEM or PKCS#12)")
	keyFile := flag.String("k", "", "private key `file` (PEM)")
	caFile := flag.String("a", "", "CA bundle `file` (PEM)")
	bundleID := flag.String("b", "", "`bundle` id of the target app")
	sandbox := flag.Bool("s", false, "use the sandbox gateway")
	token := flag.String("t", "", "device `token` in hex")
	message := flag.String("m", "", "message `text`")
	interactive := flag.Bool("i", false, "read token:sound:title:message lines from stdin")
	flag.Parse()
	log.SetFlags(0)

	if *bundleID == "" {
		log.Fatalln("Error: no bundle id (-b)")
	}
	session, err := apn.NewSession(&apn.Settings{
		CertFile: *certFile,
		KeyFile:  *keyFile,
		CAFile:   *caFile,
		Sandbox:  *sandbox,
		Topic:    *bundleID,
	})
	if err != nil {
		log.Fatalln("Error:", err)
	}
	defer session.Close()

	ok := true
	switch {
	case *interactive:
		ok = runInteractive(session, os.Stdin)
	case *token != "" && *message != "":
		ok = send(session, *token, "", "", *message)
	default:
		log.Fatalln("Error: need either -i or both -t and -m")
	}
	if !ok {
		os.Exit(1)
	}
}

// runInteractive pushes one notification per input line. Malformed lines
// are reported and skipped; they do not fail the run.
func runInteractive(session *apn.Session, in *os.File) bool {
	ok := true
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 4)
		if len(parts) != 4 {
			log.Println("Skipping malformed line (want token:sound:title:message)")
			continue
		}
		if !send(session, parts[0], parts[1], parts[2], parts[3]) {
			ok = false
		}
	}
	if err := scanner.Err(); err != nil {
		log.Println("Error reading stdin:", err)
		return false
	}
	return ok
}

func send(session *apn.Session, tokenHex, sound, title, message string) bool {
	token, err := apn.TokenFromHex(tokenHex)
	if err != nil {
		log.Println("Error:", err)
		return false
	}
	payload := apn.AlertPayload(title, message)
	if sound != "" {
		payload.WithSound(sound)
	}
	res := session.SendMessage(token, payload)
	fmt.Printf("%s: %s\n", token, res)
	return res.Accepted()
}
