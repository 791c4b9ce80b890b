package main

import (
	"flag"
	"log"
	"os"
	"strings"

	"github.com/robotalks/bootlink/pkg/l1/comm/mqtt"
)

var (
	mqttURL = "mqtt://localhost:1883/" + mqtt.DefaultTopicPrefix
)

func init() {
	if val := os.Getenv("BOOTLINK_BROKER"); val != "" {
		mqttURL = val
	}
	flag.StringVar(&mqttURL, "mqtt", mqttURL, "MQTT broker URL.")
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	q, err := mqtt.NewQueueFromURL(mqttURL)
	if err != nil {
		log.Fatalln(err)
	}

	q.Sub("#", mqtt.Handler(func(topic string, payload []byte) {
		if strings.HasSuffix(topic, "/"+mqtt.MetaTopic) {
			if len(payload) == 0 {
				log.Printf("%s: unregistered", topic)
			} else {
				log.Printf("%s: %s", topic, string(payload))
			}
			return
		}
		data, err := mqtt.DecodePayload(payload)
		if err != nil {
			log.Printf("%s: bad payload: %v", topic, err)
			return
		}
		log.Printf("%s: [%d] % x", topic, len(data), data)
	}))
	if err := q.ConnectAndWait(); err != nil {
		log.Fatalln(err)
	}
	<-(chan struct{})(nil)
}
