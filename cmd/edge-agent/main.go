// Command edge-agent is the in-vehicle telemetry edge agent process: it
// reconciles campaign documents, evaluates inspection conditions and
// last-known-state templates against the live signal stream, and publishes
// the results to the cloud over MQTT5.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/campaign"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/clock"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/config"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/connectivity"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/diag"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/docwatch"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/evaluator"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/inspection"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/lks"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/persistence"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/rawbuffer"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/sender"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/telemetry"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var overrides config.Overrides
	var showVersion bool
	flag.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default: .env)")
	flag.StringVar(&overrides.ThingName, "thing-name", "", "IoT thing name (overrides THING_NAME)")
	flag.StringVar(&overrides.MQTTBrokerAddress, "mqtt-broker", "", "MQTT broker host:port (overrides MQTT_BROKER_ADDRESS)")
	flag.StringVar(&overrides.PersistenceDir, "persistence-dir", "", "Persistence directory (overrides PERSISTENCE_DIR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.DiagAddr, "diag-addr", "", "Diagnostics listen address (overrides DIAG_ADDR)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s (commit=%s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Str("commit", commit).Str("thing", cfg.ThingName).Msg("edge-agent starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.Init()
	defer clock.Shutdown()

	store, err := persistence.New(cfg.PersistenceDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open persistence store")
	}

	rawBuf := rawbuffer.New(cfg.RawBufferMaxTotalBytes)

	functions := evaluator.NewFunctionRegistry()
	engine := inspection.New(log, functions, rawBuf)

	broadcaster := campaign.NewBroadcaster()
	broadcaster.RegisterInspectionMatrixListener(engine)

	manager := campaign.New(log, store, broadcaster, rawBuf, cfg.RawBufferMaxBytesPerSignal, parseDecoderManifest, parseCollectionSchemes)

	connClient := connectivity.New(log, connectivity.Options{
		BrokerAddress:    cfg.MQTTBrokerAddress,
		ClientID:         cfg.ThingName,
		KeepAliveSec:     uint16(cfg.MQTTKeepAlive.Seconds()),
		SessionExpirySec: uint32(cfg.MQTTSessionExpiry.Seconds()),
		PingTimeoutMs:    int(cfg.MQTTPingTimeout.Milliseconds()),
		RootCAPath:       cfg.MQTTRootCA,
		MaxSendSize:      cfg.MQTTMaxSendSize,
		MaxHeapBytes:     cfg.MQTTMaxHeapBytes,
		MinBackoff:       cfg.MQTTMinBackoff,
		MaxBackoff:       cfg.MQTTMaxBackoff,
	})

	pipeline := sender.New(log, store, connClient, cfg.SenderTransmitThreshold)

	topics := newTopicSet(cfg.ThingName)

	inspectionSink := &inspectionSink{pipeline: pipeline, topicForCampaign: topics.telemetry}
	inspectionWorker := inspection.NewWorker(engine, clk, inspectionSink, 200*time.Millisecond)

	lksState := newStateTemplateStore()
	lksSink := &lksSink{pipeline: pipeline, topic: topics.lksData}
	lksInspector := lks.New(log, store, lksSink)
	lksInspector.LoadPersisted(clk.Now())
	lksWorker := lks.NewWorker(lksInspector, clk, cfg.LKSTickInterval)

	manager.LoadPersisted(clk.Now())
	campaignWorker := campaign.NewWorker(manager, clk, cfg.CampaignIdleTimeout)

	activeSchemes := newActiveSchemeTracker()
	broadcaster.RegisterActiveSchemeListListener(activeSchemes)

	gauges := &agentGauges{
		manager: manager,
		rawBuf:  rawBuf,
		store:   store,
		conn:    connClient,
	}
	prometheus.MustRegister(telemetry.NewCollector(gauges))

	diagServer := diag.New(log, diag.Options{Addr: cfg.DiagAddr, Version: version, StartTime: time.Now()})
	diagServer.Start()

	dmReceiver := connClient.CreateReceiver(topics.decoderManifestNotify())
	dmReceiver.OnMessage(func(_ string, payload []byte) { manager.OnDecoderManifestUpdate(payload) })

	schemesReceiver := connClient.CreateReceiver(topics.collectionSchemesNotify())
	schemesReceiver.OnMessage(func(_ string, payload []byte) { manager.OnCollectionSchemeUpdate(payload) })

	lksReceiver := connClient.CreateReceiver(topics.lksNotify())
	lksReceiver.OnMessage(func(_ string, payload []byte) {
		list, err := lksState.apply(payload)
		if err != nil {
			log.Error().Err(err).Msg("discarding invalid state templates diff")
			return
		}
		lksInspector.OnStateTemplatesChanged(list, clk.Now())
	})

	commandsReceiver := connClient.CreateReceiver(topics.commandsRequest())
	commandsReceiver.OnMessage(func(_ string, payload []byte) {
		req, err := parseCommandRequest(payload)
		if err != nil {
			log.Error().Err(err).Msg("discarding malformed command request")
			return
		}
		kind, err := commandKindFromWire(req.Kind)
		if err != nil {
			log.Error().Err(err).Msg("discarding command request with unknown kind")
			return
		}
		cmd := lks.Command{ID: req.CommandID, StateTemplateID: req.StateTemplateID, Kind: kind, ReceivedTime: clk.Now()}
		if req.DeactivateAfterSeconds != nil {
			cmd.HasDeactivateAfter = true
			cmd.DeactivateAfterSeconds = *req.DeactivateAfterSeconds
		}
		resp := lksInspector.OnNewCommand(cmd, clk.Now())
		connClient.SendBuffer(topics.commandResponse(resp.CommandID), encodeCommandResponse(resp), func(sender.Result) {})
	})

	dmReceiver.Subscribe()
	schemesReceiver.Subscribe()
	lksReceiver.Subscribe()
	commandsReceiver.Subscribe()

	var docWatcher *docwatch.Watcher
	if cfg.DocWatchDir != "" {
		docWatcher = docwatch.New(log, cfg.DocWatchDir, map[string]docwatch.Handler{
			"decoder-manifest.json":   func(payload []byte) { manager.OnDecoderManifestUpdate(payload) },
			"collection-schemes.json": func(payload []byte) { manager.OnCollectionSchemeUpdate(payload) },
		})
		if err := docWatcher.Start(); err != nil {
			log.Error().Err(err).Str("dir", cfg.DocWatchDir).Msg("failed to start document watcher")
			docWatcher = nil
		}
	}

	connClient.Connect()
	inspectionWorker.Start()
	lksWorker.Start()
	campaignWorker.Start()

	checkinStop := make(chan struct{})
	var checkinWG sync.WaitGroup
	checkinWG.Add(1)
	go runCheckinLoop(&checkinWG, checkinStop, clk, cfg.CheckinInterval, activeSchemes, connClient, topics.checkin())

	retryStop := make(chan struct{})
	var retryWG sync.WaitGroup
	retryWG.Add(1)
	go runRetryLoop(&retryWG, retryStop, cfg.RetrySendInterval, pipeline, topics.telemetry)

	log.Info().Msg("edge-agent ready")
	<-ctx.Done()
	log.Info().Msg("edge-agent shutting down")

	// Shutdown order per spec.md §5: connectivity, then sender, then the
	// inspectors, then the campaign lifecycle manager, then the buffers.
	connClient.Disconnect()
	if docWatcher != nil {
		docWatcher.Stop()
	}

	close(retryStop)
	retryWG.Wait()
	close(checkinStop)
	checkinWG.Wait()

	inspectionWorker.Stop()
	lksWorker.Stop()
	campaignWorker.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	diagServer.Stop(shutdownCtx)

	log.Info().Msg("edge-agent stopped")
}

// topicSet resolves the agent's MQTT topic names, per spec.md §6. The
// $aws/things/{thing}/jobs/... family (campaign delivery via IoT Jobs) is
// not wired here — campaigns instead arrive directly over
// collection-schemes/notify, the simpler of the two delivery mechanisms
// spec.md §6 documents.
type topicSet struct{}

func newTopicSet(_ string) topicSet { return topicSet{} }

func (t topicSet) decoderManifestNotify() string   { return "decoder-manifest/notify" }
func (t topicSet) collectionSchemesNotify() string { return "collection-schemes/notify" }
func (t topicSet) lksNotify() string               { return "last-known-state/notify" }
func (t topicSet) commandsRequest() string         { return "commands/request" }
func (t topicSet) lksData() string                 { return "last-known-state/data" }
func (t topicSet) checkin() string                 { return "checkin" }
func (t topicSet) telemetry(campaignSyncID string) string {
	return "telemetry/" + campaignSyncID
}
func (t topicSet) commandResponse(commandID string) string {
	return "commands/response/" + commandID
}

// inspectionSink adapts inspection.Snapshot into the sender pipeline.
type inspectionSink struct {
	pipeline         *sender.Pipeline
	topicForCampaign func(string) string
}

func (s *inspectionSink) OnSnapshot(snap inspection.Snapshot) {
	frame := sender.FromInspectionSnapshot(snap, false, true)
	s.pipeline.ProcessCollectedData(s.topicForCampaign(snap.CampaignSyncID), frame)
}

// lksSink adapts lks.Snapshot into the sender pipeline.
type lksSink struct {
	pipeline *sender.Pipeline
	topic    func() string
}

func (s *lksSink) Emit(snap lks.Snapshot) {
	frame := sender.FromLKSSnapshot(snap)
	s.pipeline.ProcessCollectedData(s.topic(), frame)
}

// activeSchemeTracker records the most recent active-campaign list handed
// out by the campaign lifecycle manager's broadcaster, for the checkin
// loop to read without holding the manager's own internal state hostage.
type activeSchemeTracker struct {
	mu  sync.Mutex
	ids []string
}

func newActiveSchemeTracker() *activeSchemeTracker { return &activeSchemeTracker{} }

func (a *activeSchemeTracker) OnActiveSchemesChanged(syncIDs []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ids = append([]string(nil), syncIDs...)
}

func (a *activeSchemeTracker) snapshot() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.ids...)
}

func runCheckinLoop(wg *sync.WaitGroup, stop chan struct{}, clk *clock.Clock, interval time.Duration, tracker *activeSchemeTracker, c *connectivity.Client, topic string) {
	defer wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			payload := encodeCheckin(tracker.snapshot(), clk.Now().SystemMs)
			c.SendBuffer(topic, payload, func(sender.Result) {})
		case <-stop:
			return
		}
	}
}

func runRetryLoop(wg *sync.WaitGroup, stop chan struct{}, interval time.Duration, pipeline *sender.Pipeline, topicForCampaign func(string) string) {
	defer wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			pipeline.CheckAndSendRetrievedData(topicForCampaign)
		case <-stop:
			return
		}
	}
}

// stateTemplateStore applies successive StateTemplatesDiff documents to a
// running set, handing the Inspector the full resulting list each time
// (spec.md §4.F takes the complete set, not a diff).
type stateTemplateStore struct {
	mu      sync.Mutex
	current map[string]lks.StateTemplate
}

func newStateTemplateStore() *stateTemplateStore {
	return &stateTemplateStore{current: make(map[string]lks.StateTemplate)}
}

func (s *stateTemplateStore) apply(raw []byte) ([]lks.StateTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return applyStateTemplatesDiff(raw, s.current)
}

// agentGauges joins the running components into the single telemetry.Gauges
// implementation the collector scrapes.
type agentGauges struct {
	manager *campaign.Manager
	rawBuf  *rawbuffer.Manager
	store   *persistence.Store
	conn    *connectivity.Client
}

func (g *agentGauges) ActiveCampaignCount() int     { return g.manager.ActiveCampaignCount() }
func (g *agentGauges) RawBufferUsedBytes() int64    { return g.rawBuf.UsedBytes() }
func (g *agentGauges) UndeliveredPayloadCount() int { return g.store.UndeliveredCount() }
func (g *agentGauges) MQTTAlive() bool              { return g.conn.IsAlive() }
