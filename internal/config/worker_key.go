package config

type WorkerKeyStruct struct {
	PersistGroupTestEventsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistGroupTestEventsQueue: "persist_group_test_events_queue",
}
