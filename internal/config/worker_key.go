package config

type WorkerKeyStruct struct {
	PersistGradeAuditQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistGradeAuditQueue: "grade_audit_queue",
}
