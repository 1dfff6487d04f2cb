// Command agent is the composition root (C11): it wires the schema, the
// instance store, every configured binding, the subscription engine, the
// value-change poller, and the per-product service map into a running USP
// Agent.
package main

import (
	"flag"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	log "github.com/golang/glog"

	"github.com/arris-iot/usp-agent/config"
	"github.com/arris-iot/usp-agent/datamodel"
	"github.com/arris-iot/usp-agent/service"
	"github.com/arris-iot/usp-agent/subscription"
	"github.com/arris-iot/usp-agent/transport"
	"github.com/arris-iot/usp-agent/transport/coap"
	"github.com/arris-iot/usp-agent/transport/stomp"
	"github.com/arris-iot/usp-agent/usp"
)

var (
	useCoAP      = flag.Bool("coap", false, "use the CoAP binding (default STOMP)")
	coapPort     = flag.Int("coap-port", 5683, "CoAP listen port")
	intf         = flag.String("intf", "eth0", "network interface used for local IP discovery")
	clientType   = flag.String("t", "", "client type, selects <name>-dm.json / <name>.db")
	clientTypeLF = flag.String("client-type", "", "client type, selects <name>-dm.json / <name>.db (long form of -t)")
	cfgFileName  = flag.String("config", "agent.json", "path to the agent's configuration file")
)

const (
	endpointIDParamPath  = "Device.LocalAgent.EndpointID"
	productClassParam    = "Device.DeviceInfo.ProductClass"
	gpioPinConfigKey     = "gpio.pin"
	cameraImageDirKey    = "camera.image.dir"
	defaultGPIOPin       = "4"
	defaultCameraDir     = "pictures"
	defaultCapturePort   = "8080"
	defaultCaptureCmd    = "raspistill"
	defaultSTOMPHost     = "localhost"
	defaultSTOMPPort     = 61613
	defaultSTOMPDest     = "/queue/usp-agent"
)

func main() {
	flag.Parse()

	ct := *clientType
	if ct == "" {
		ct = *clientTypeLF
	}
	if ct == "" {
		log.Exit("agent: -t/--client-type is required")
	}

	schema, err := datamodel.LoadSchema(ct + "-dm.json")
	if err != nil {
		log.Exitf("agent: failed to load schema: %v", err)
	}
	log.Infof("agent: loaded %d schema entries", schema.Len())

	store, err := datamodel.NewStore(schema, ct+".db", *intf)
	if err != nil {
		log.Exitf("agent: failed to load store: %v", err)
	}
	resolver := datamodel.NewResolver(store)

	endpointID, err := store.Get(endpointIDParamPath)
	if err != nil {
		log.Exitf("agent: %s is not set in the store", endpointIDParamPath)
	}

	services := loadServices(store)

	dispatcher := usp.NewDispatcher(endpointID, store, resolver, services)

	binding, bindingAddr := buildBinding(endpointID)
	if err := binding.Listen(bindingAddr); err != nil {
		log.Exitf("agent: failed to start %s listener: %v", binding.Protocol(), err)
	}
	listener := transport.NewListener(endpointID, binding, dispatcher)
	go listener.Run()
	log.Infof("agent: %s listener started", binding.Protocol())

	poller := subscription.NewPoller(store, subscription.DefaultPollInterval)
	go poller.Run()

	bindings := map[string]transport.Binding{binding.Protocol(): binding}
	subRoot := subscription.DetectSubscriptionRoot(schema)
	engine := subscription.NewEngine(endpointID, subRoot, store, bindings, poller)
	engine.Init()

	log.Infof("agent: %s is up, endpoint %s", ct, endpointID)

	awaitShutdown()

	log.Infof("agent: shutting down")
	engine.Stop()
	poller.Stop()
	listener.Stop()
	binding.Close()
}

func buildBinding(endpointID string) (transport.Binding, transport.Addr) {
	if *useCoAP {
		b := coap.New()
		addr := transport.Addr{Protocol: "CoAP", CoAPHost: localIP(*intf), CoAPPort: *coapPort, CoAPPath: "usp"}
		return b, addr
	}
	b := stomp.New(endpointID)
	addr := transport.Addr{
		Protocol:         "STOMP",
		STOMPHost:        defaultSTOMPHost,
		STOMPPort:        defaultSTOMPPort,
		STOMPDestination: defaultSTOMPDest,
	}
	return b, addr
}

func localIP(ifaceName string) string {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return ""
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return ""
}

// loadServices populates the per-product service map (spec.md 9: only
// RPi_Camera/RPiZero_Camera and RPi_Motion are recognized; extending to
// other product classes is left undefined upstream).
func loadServices(store *datamodel.Store) map[string]usp.Service {
	productClass, err := store.Get(productClassParam)
	if err != nil {
		log.Warningf("agent: %s is not set, no services loaded", productClassParam)
		return nil
	}

	cfg := config.NewManager(*cfgFileName, map[string]interface{}{
		gpioPinConfigKey:  defaultGPIOPin,
		cameraImageDirKey: defaultCameraDir,
	})

	services := map[string]usp.Service{}

	switch productClass {
	case "RPi_Camera", "RPiZero_Camera":
		imageDir, err := cfg.GetString(cameraImageDirKey)
		if err != nil {
			imageDir = defaultCameraDir
		}
		services[productClass] = service.NewCamera(imageDir, "image", defaultCaptureCmd, defaultCapturePort, store)
		log.Infof("agent: loaded Camera service for product class [%s]", productClass)

	case "RPi_Motion":
		pinStr, err := cfg.GetString(gpioPinConfigKey)
		if err != nil {
			pinStr = defaultGPIOPin
		}
		pin, err := strconv.Atoi(pinStr)
		if err != nil {
			log.Warningf("agent: invalid %s [%s], no motion service loaded", gpioPinConfigKey, pinStr)
			break
		}
		detector, err := service.NewMotionDetector(pin, store)
		if err != nil {
			log.Warningf("agent: failed to start motion detector: %v", err)
			break
		}
		go detector.Run()
		log.Infof("agent: loaded motion detection for product class [%s]", productClass)

	default:
		log.Warningf("agent: no services to load for product class [%s]", productClass)
	}

	return services
}

func awaitShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	time.Sleep(50 * time.Millisecond) // let in-flight writes settle
}
