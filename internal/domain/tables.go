package domain

var Tables = []interface{}{
	&Instance{},
	&Credential{},
}
