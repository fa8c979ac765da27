package main

import (
	"github.com/bobuhiro11/gox86/flag"
	"github.com/sirupsen/logrus"
)

func main() {
	if err := flag.Parse(); err != nil {
		logrus.Fatal(err)
	}
}
