package main

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net"
	"time"

	"github.com/996BC/996.DHT/crypto"
	"github.com/996BC/996.DHT/dht"
	"github.com/996BC/996.DHT/utils"
)

type config struct {
	IP                string    `json:"ip"`
	Port              int       `json:"port"`
	Seeds             []string  `json:"seeds"`
	LogLevel          int       `json:"log_level"`
	DataPath          string    `json:"data_path"`
	Key               keyConfig `json:"key"`
	HTTPPort          int       `json:"http_port"`
	QueryTimeoutMS    int       `json:"query_timeout_ms"`
	MaxOutstanding    int       `json:"max_outstanding"`
	MinSendGapMS      int       `json:"min_send_gap_ms"`
	TokenRotationS    int       `json:"token_rotation_s"`
	InboundRate       float64   `json:"inbound_rate"`
	InboundBurst      int       `json:"inbound_burst"`
	VerifyReplySource bool      `json:"verify_reply_source"`
}

// keyConfig type 0 means a random node id on every start
type keyConfig struct {
	Type int    `json:"type"`
	Path string `json:"path"`
}

func parseConfig(cf string) (*config, error) {
	if len(cf) == 0 {
		return nil, fmt.Errorf("miss config file")
	}

	if err := utils.AccessCheck(cf); err != nil {
		return nil, err
	}

	jsonContent, err := ioutil.ReadFile(cf)
	if err != nil {
		return nil, fmt.Errorf("read config file failed:%v", err)
	}

	conf := &config{}
	if err := json.Unmarshal(jsonContent, &conf); err != nil {
		return nil, fmt.Errorf("config parse failed:%v", err)
	}

	if err := verifyConfig(conf); err != nil {
		return nil, err
	}

	return conf, nil
}

func verifyConfig(c *config) error {
	if ip := net.ParseIP(c.IP); ip == nil {
		return fmt.Errorf("invalid IP:%s", c.IP)
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port:%d", c.Port)
	}

	for _, seed := range c.Seeds {
		if ip, _ := utils.ParseIPPort(seed); ip == nil {
			return fmt.Errorf("invalid seed:%s", seed)
		}
	}

	if c.LogLevel < utils.LogErrorLevel || c.LogLevel > utils.LogDebugLevel {
		return fmt.Errorf("invalid log level:%d", c.LogLevel)
	}

	if err := utils.AccessCheck(c.DataPath); err != nil {
		return err
	}

	if c.Key.Type != 0 {
		if c.Key.Type != crypto.SealKeyType && c.Key.Type != crypto.PlainKeyType {
			return fmt.Errorf("invalid key type")
		}
		if err := utils.AccessCheck(c.Key.Path); err != nil {
			return err
		}
	}

	// 0 disables the http server
	if c.HTTPPort < 0 || c.HTTPPort > 65535 || (c.HTTPPort != 0 && c.HTTPPort == c.Port) {
		return fmt.Errorf("invalid http port:%d", c.HTTPPort)
	}

	if c.QueryTimeoutMS < 0 || c.MaxOutstanding < 0 || c.MinSendGapMS < 0 ||
		c.TokenRotationS < 0 || c.InboundRate < 0 || c.InboundBurst < 0 {
		return fmt.Errorf("negative engine parameter")
	}

	return nil
}

// engineConfig overrides the defaults with the non zero fields
func (c *config) engineConfig() dht.Config {
	conf := dht.DefaultConfig()
	if c.QueryTimeoutMS != 0 {
		conf.Timeout = time.Duration(c.QueryTimeoutMS) * time.Millisecond
	}
	if c.MaxOutstanding != 0 {
		conf.MaxOutstanding = c.MaxOutstanding
	}
	if c.MinSendGapMS != 0 {
		conf.MinSendGap = time.Duration(c.MinSendGapMS) * time.Millisecond
	}
	if c.TokenRotationS != 0 {
		conf.TokenRotation = time.Duration(c.TokenRotationS) * time.Second
	}
	if c.InboundRate != 0 {
		conf.InboundRate = c.InboundRate
	}
	if c.InboundBurst != 0 {
		conf.InboundBurst = c.InboundBurst
	}
	conf.VerifyReplySource = c.VerifyReplySource
	return conf
}

func parseSeeds(seeds []string) []*net.UDPAddr {
	var result []*net.UDPAddr

	for _, seed := range seeds {
		ip, port := utils.ParseIPPort(seed)
		if ip == nil {
			continue
		}
		result = append(result, &net.UDPAddr{IP: ip, Port: port})
	}

	return result
}

func loadNodeID(k keyConfig) (crypto.NodeID, error) {
	if k.Type == 0 {
		return crypto.RandomNodeID(), nil
	}

	privKey, err := crypto.LoadKey(k.Type, k.Path)
	if err != nil {
		return crypto.NodeID{}, err
	}
	return crypto.NodeIDFromPubKey(privKey.PubKey()), nil
}
