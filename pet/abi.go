package pet

const contractABI = `[
	{"type":"function","name":"createPet","stateMutability":"nonpayable",
	 "inputs":[{"name":"name","type":"string"}],"outputs":[]},
	{"type":"function","name":"feedPet","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"function","name":"playWithPet","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"function","name":"getPetStats","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"}],
	 "outputs":[
		{"name":"name","type":"string"},
		{"name":"level","type":"uint256"},
		{"name":"xp","type":"uint256"},
		{"name":"happiness","type":"uint256"},
		{"name":"hunger","type":"uint256"},
		{"name":"isAlive","type":"bool"},
		{"name":"winStreak","type":"uint256"}
	 ]},
	{"type":"function","name":"hasPet","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"event","name":"PetCreated","anonymous":false,
	 "inputs":[
		{"name":"owner","type":"address","indexed":true},
		{"name":"name","type":"string","indexed":false}
	 ]}
]`

const (
	methodCreatePet   = "createPet"
	methodFeedPet     = "feedPet"
	methodPlayWithPet = "playWithPet"
	methodGetPetStats = "getPetStats"
	methodHasPet      = "hasPet"

	eventPetCreated = "PetCreated"
)
